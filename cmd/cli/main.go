// Command lmsctl is a CLI client for the course core service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/lms-core/internal/convert"
	grpcserver "github.com/and161185/lms-core/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "lmsctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lmsctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp without verifying the signature; the server does that.
func tokenExpiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(tok, &claims)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(15 * time.Minute)
}

// mintToken signs a dev token with the server's shared key.
func mintToken(key []byte, sub, role string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := grpcserver.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	return s, exp, err
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

type tlsOptions struct {
	caPath    string
	skipCheck bool
	plaintext bool
}

func loadTLS(o tlsOptions) (credentials.TransportCredentials, error) {
	if o.plaintext {
		return insecure.NewCredentials(), nil
	}
	if o.skipCheck {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if o.caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(o.caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(addr string, o tlsOptions, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	creds, err := loadTLS(o)
	if err != nil {
		return nil, nil, err
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `lmsctl
Usage:
  lmsctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  login      -token <jwt>                                  (saves token)
  mint       -key <hs256 key> -sub <uid> [-role admin] [-ttl 1h]   (dev; saves token)
  access     -course <id>
  complete   -course <id> -module <id> -lesson <id>
  progress   -course <id> -module <id> -lesson <id> [-percent N] [-watched S]
  recalc     -course <id> [-user <uid>]
  issue      -course <id> [-user <uid>]
  verify     -code <FV-XXXXX>                              (no token)
  enroll     -user <uid> -course <id> [-ref ref] [-method stripe|subscription|free|admin] [-until RFC3339]
  expire     -user <uid> -course <id>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	var o tlsOptions
	flag.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&o.skipCheck, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&o.plaintext, "plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Printf("lmsctl %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "bearer token")
		_ = fs.Parse(args)
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		if err := saveToken(*tok, tokenExpiry(*tok)); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "mint":
		fs := flag.NewFlagSet("mint", flag.ExitOnError)
		key := fs.String("key", os.Getenv("LMS_JWT_KEY"), "HS256 key")
		sub := fs.String("sub", "", "user id")
		role := fs.String("role", "", "role claim")
		ttl := fs.Duration("ttl", time.Hour, "token ttl")
		_ = fs.Parse(args)
		if *key == "" || *sub == "" {
			fmt.Fprintln(os.Stderr, "need -key and -sub")
			os.Exit(1)
		}
		tok, exp, err := mintToken([]byte(*key), *sub, *role, *ttl)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, exp); err != nil {
			fail(err)
		}
		fmt.Println(tok)

	case "verify":
		req, err := parseVerify(args)
		if err != nil {
			fail(err)
		}
		call(ctx, *addr, o, "", grpcserver.MethodVerifyCertificate, req)

	default:
		method, req, err := parseCommand(cmd, args)
		if err != nil {
			if errors.Is(err, errUnknownCommand) {
				usage()
			}
			fail(err)
		}
		token, err := loadToken()
		if err != nil {
			fail(err)
		}
		call(ctx, *addr, o, token, method, req)
	}
}

// call sends req and prints the response.
func call(ctx context.Context, addr string, o tlsOptions, token, method string, req any) {
	cc, cli, err := dial(addr, o, token)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	in, err := convert.ToStruct(req)
	if err != nil {
		fail(err)
	}
	out, err := cli.Call(ctx, method, in)
	if err != nil {
		fail(err)
	}
	printJSON(asMap(out))
}

func asMap(s *structpb.Struct) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return s.AsMap()
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		if c := grpcserver.CodeFromStatus(err); c != "" {
			fmt.Fprintf(os.Stderr, "denied: %s (%s)\n", c, s.Message())
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
