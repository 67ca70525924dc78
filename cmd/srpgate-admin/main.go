// ABOUTME: Admin CLI for srpgate users, tokens and the audit log
// ABOUTME: Enrollment talks to the store directly; everything else goes through the gateway APIs

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/srpgate/internal/config"
)

const banner = `
                             _                  _           _
  ___ _ __ _ __   __ _  __ _| |_ ___       __ _| |_ __ ___ (_)_ __
 / __| '__| '_ \ / _' |/ _' | __/ _ \____ / _' | | '_ ' _ \| | '_ \
 \__ \ |  | |_) | (_| | (_| | ||  __/____| (_| | | | | | | | | | | |
 |___/_|  | .__/ \__, |\__,_|\__\___|     \__,_|_|_| |_| |_|_|_| |_|
          |_|    |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := config.LoadDotEnv(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	env := remoteEnv{
		HTTPURL:  getEnv("SRPGATE_URL", "http://localhost:8080"),
		GRPCAddr: getEnv("SRPGATE_GRPC", "localhost:50051"),
		Token:    getToken(),
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "user", "users":
		err = cmdUser(args)
	case "token":
		err = cmdToken(args)
	case "login":
		err = cmdLogin(env, args)
	case "me":
		err = cmdMe(env)
	case "audit":
		err = cmdAudit(env, args)
	case "status":
		err = cmdStatus(env)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: srpgate-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands (direct database access, reads the gateway config):")
	fmt.Println("  user add <email>        Enroll a user or rotate their password")
	fmt.Println("  user delete <email>     Delete a user and their credential")
	fmt.Println("  token create            Mint a token (--identity, --type, --ttl)")
	fmt.Println()
	yellow.Println("Commands (through the running gateway):")
	fmt.Println("  login <email>           Run an SRP handshake and print the token")
	fmt.Println("  me                      Show the identity behind SRPGATE_TOKEN")
	fmt.Println("  user list [--limit N]   List users (SYSADMIN)")
	fmt.Println("  audit [--limit N]       Show the audit log (SYSADMIN)")
	fmt.Println("  status                  Check the gateway gRPC health service")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  SRPGATE_CONFIG          Gateway config file (default: ~/.config/srpgate/gateway.yaml)")
	fmt.Println("  SRPGATE_URL             Gateway HTTP URL (default: http://localhost:8080)")
	fmt.Println("  SRPGATE_GRPC            Gateway gRPC address (default: localhost:50051)")
	fmt.Println("  SRPGATE_TOKEN           Bearer token (default: ~/.config/srpgate/token)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  srpgate-admin user add alice@example.com --first Alice --last Smith")
	fmt.Println("  export SRPGATE_TOKEN=$(srpgate-admin login alice@example.com)")
	fmt.Println("  srpgate-admin me")
	fmt.Println()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getToken returns the token from SRPGATE_TOKEN or the file written by
// srpgate bootstrap next to the config.
func getToken() string {
	if token := os.Getenv("SRPGATE_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(config.DefaultPath()), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
