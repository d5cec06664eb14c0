package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/cedarledger/statements_backend/utils"
)

// Issues a signed JWT for local testing against the statement endpoints.
// Uses the same API_SECRET and TOKEN_HOUR_LIFESPAN the server verifies with.
func main() {
	userId := flag.Int("user-id", 0, "numeric user id to embed in the token")
	role := flag.String("role", "user", "role claim")
	flag.Parse()

	if *userId <= 0 {
		fmt.Fprintln(os.Stderr, "usage: issue-token -user-id <id> [-role <role>]")
		os.Exit(1)
	}
	if os.Getenv("TOKEN_HOUR_LIFESPAN") == "" {
		os.Setenv("TOKEN_HOUR_LIFESPAN", "24")
	}

	token, err := utils.JwtGenerate(*userId, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token generation failed:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
