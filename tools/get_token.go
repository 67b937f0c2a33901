package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"crm-mail-ingest-go/internal/service/mailbox"
)

// Prints a refresh token for IMAP OAUTHBEARER login to a Gmail mailbox.
func main() {
	_ = godotenv.Load()

	clientID := os.Getenv("IMAP_OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("IMAP_OAUTH_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		logrus.Fatal("Please set IMAP_OAUTH_CLIENT_ID and IMAP_OAUTH_CLIENT_SECRET environment variables")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{mailbox.GmailScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8080/callback",
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	if _, err := fmt.Scan(&authCode); err != nil {
		logrus.Fatalf("Unable to read authorization code: %v", err)
	}

	tok, err := config.Exchange(context.Background(), authCode)
	if err != nil {
		logrus.Fatalf("Unable to retrieve token from web: %v", err)
	}
	if tok.RefreshToken == "" {
		logrus.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	fmt.Printf("\nRefresh Token: %s\n", tok.RefreshToken)
	fmt.Printf("Expiry of access token: %v\n", tok.Expiry)

	fmt.Println("\nConfigure the tenant mailbox with:")
	fmt.Println("export IMAP_AUTH=\"oauth2\"")
	fmt.Println("export IMAP_OAUTH_PROVIDER=\"gmail\"")
	fmt.Printf("export IMAP_OAUTH_REFRESH_TOKEN=\"%s\"\n", tok.RefreshToken)
}
