// Package client is a Go client for the srpgate HTTP API.
//
// Login performs the full SRP-6a exchange locally: the password never leaves
// the process, and the server's M2 proof is checked before the returned
// token is trusted.
//
//	c, _ := client.New("https://gate.example.com", client.WithKDF(srp.SHA256KDF{}))
//	token, err := c.Login(ctx, "alice@example.com", password)
//	me, err := c.Me(ctx, token)
package client
