// Command gensecret prints a random identity secret, or a bearer token signed with
// the given secret for local testing of the API.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/creatorledger/internal/identity"
)

const SecretKeyBytesLen = 32

func main() {
	fs := pflag.NewFlagSet("gensecret", pflag.ExitOnError)
	secret := fs.StringP("secret", "s", "", "Sign a token with the secret instead of generating a new secret")
	subject := fs.String("subject", "", "External user id put into the token")
	email := fs.String("email", "", "Email put into the token")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	_ = fs.Parse(os.Args[1:])

	if *secret == "" {
		b := make([]byte, SecretKeyBytesLen)

		_, err := rand.Read(b)
		if err != nil {
			fmt.Printf("error while generating secret key: %v", err)
			os.Exit(1)
		}

		fmt.Println(hex.EncodeToString(b))
		return
	}

	if *subject == "" {
		fmt.Println("subject is required to sign a token")
		os.Exit(1)
	}

	p, err := identity.New(identity.Config{SecretKey: *secret, TTL: *ttl}, nil)
	if err != nil {
		fmt.Printf("error while creating identity provider: %v", err)
		os.Exit(1)
	}

	token, _, err := p.Issue(*subject, *email)
	if err != nil {
		fmt.Printf("error while signing token: %v", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
