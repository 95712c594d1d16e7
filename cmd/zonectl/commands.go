package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/aoikurokawa/zone/internal/crypto"
	"github.com/aoikurokawa/zone/internal/server/handler"
)

// keyFlags are shared by every command that needs a private key. The
// ZONE_KEY and ZONE_KEY_PASSWORD environment variables fill unset flags.
type keyFlags struct {
	raw      string
	file     string
	password string
}

func (k *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&k.raw, "key", "", "hex private key (env ZONE_KEY)")
	fs.StringVar(&k.file, "key-file", "", "encrypted key file")
	fs.StringVar(&k.password, "password", "", "key file password (env ZONE_KEY_PASSWORD)")
}

func (k *keyFlags) load() (string, error) {
	if k.raw == "" {
		k.raw = os.Getenv("ZONE_KEY")
	}
	if k.password == "" {
		k.password = os.Getenv("ZONE_KEY_PASSWORD")
	}
	return crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    k.raw,
		EncryptedKeyPath: k.file,
		KeyPassword:      k.password,
	})
}

func runKeygen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	return writeJSON(stdout, map[string]string{
		"address":     ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		"private_key": hex.EncodeToString(ethcrypto.FromECDSA(pk)),
	})
}

func runEncryptKey(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	var keys keyFlags
	keys.register(fs)
	out := fs.String("out", "", "write the key file here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if keys.file != "" {
		return errors.New("encrypt-key: takes -key, not -key-file")
	}
	key, err := keys.load()
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	data, err := crypto.EncryptKey(key, keys.password)
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if *out == "" {
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	addr, _ := crypto.AddressFromKey(key)
	_, err = fmt.Fprintf(stdout, "wrote %s for %s\n", *out, addr.Hex())
	return err
}

func runAddress(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	var keys keyFlags
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := keys.load()
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	addr, err := crypto.AddressFromKey(key)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	_, err = fmt.Fprintln(stdout, addr.Hex())
	return err
}

// runSign prints an envelope ready to POST to /api/ops. Params are checked
// with the same decoder the server uses, so a malformed body fails here
// instead of after submission.
func runSign(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	var keys keyFlags
	keys.register(fs)
	program := fs.String("program", "zone", "program id of the target deployment")
	kind := fs.String("kind", "", "operation kind, e.g. create_prediction")
	params := fs.String("params", "", "operation params as JSON")
	nonce := fs.Uint64("nonce", 0, "envelope nonce (default: current unix nanoseconds)")
	ts := fs.Int64("timestamp", 0, "envelope unix timestamp (default: now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kind == "" || *params == "" {
		return errors.New("sign: -kind and -params are required")
	}
	if _, err := handler.DecodeOperation(*kind, []byte(*params)); err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	key, err := keys.load()
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	signer, err := crypto.NewSigner(key, crypto.NewDomain(*program))
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	now := time.Now()
	if *nonce == 0 {
		*nonce = uint64(now.UnixNano())
	}
	if *ts == 0 {
		*ts = now.Unix()
	}
	env, err := signer.Seal(*kind, json.RawMessage(*params), *nonce, *ts)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	// Compact: indenting would rewrite the signed params bytes.
	return json.NewEncoder(stdout).Encode(env)
}

func runFeedHeaders(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("feed-headers", flag.ContinueOnError)
	key := fs.String("feed-key", os.Getenv("ZONE_FEED_KEY"), "feed key")
	secret := fs.String("feed-secret", os.Getenv("ZONE_FEED_SECRET"), "feed secret")
	method := fs.String("method", "PUT", "HTTP method")
	path := fs.String("path", "", "request path, e.g. /api/prices/BTC")
	body := fs.String("body", "", "request body")
	ts := fs.Int64("timestamp", 0, "unix timestamp (default: now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" || *secret == "" || *path == "" {
		return errors.New("feed-headers: -feed-key, -feed-secret and -path are required")
	}
	feed := crypto.FeedAuth{Key: *key, Secret: *secret}
	if *ts == 0 {
		return writeJSON(stdout, feed.Headers(*method, *path, *body))
	}
	return writeJSON(stdout, feed.HeadersAt(*method, *path, *body, *ts))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
