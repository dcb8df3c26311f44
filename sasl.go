package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const saslBufferCap = 16 * 1024

func certfpOf(der []byte) string {
	sum := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func handleAuthenticatePreReg(c *LocalClient, m Message) {
	handleAuthenticate(c, m, c.Session.Unreg)
}

// handleAuthenticate is the shared AUTHENTICATE body used both before and
// after registration (spec §4.C "Post-registration re-auth is
// permitted").
func handleAuthenticate(c *LocalClient, m Message, u *UnregisteredState) {
	payload, ok := m.Arg(0)
	if !ok {
		return
	}

	if payload == "*" {
		u.SaslState = SaslNone
		u.SaslBuffer = nil
		_ = c.messageFromServer("904", []string{"SASL authentication aborted"})
		return
	}

	if u.SaslState == SaslNone {
		switch strings.ToUpper(payload) {
		case "PLAIN":
			if !c.isTLS() && !allowPlaintextSaslPlain {
				_ = c.messageFromServer("904", []string{"SASL authentication failed"})
				return
			}
			u.SaslState = SaslWaitingForData
			u.SaslMechanism = "PLAIN"
			_ = c.messageFromServer("AUTHENTICATE", []string{"+"})
		case "EXTERNAL":
			if !c.isTLS() || c.Conn.CertificateFingerprint() == "" {
				_ = c.messageFromServer("904", []string{"SASL authentication failed"})
				return
			}
			u.SaslState = SaslWaitingForExternal
			u.SaslMechanism = "EXTERNAL"
			_ = c.messageFromServer("AUTHENTICATE", []string{"+"})
		case "SCRAM-SHA-256":
			u.SaslState = SaslWaitingForScramClientFirst
			u.SaslMechanism = "SCRAM-SHA-256"
			_ = c.messageFromServer("AUTHENTICATE", []string{"+"})
		default:
			_ = c.messageFromServer("908", []string{"PLAIN,EXTERNAL,SCRAM-SHA-256", "are available SASL mechanisms"})
		}
		return
	}

	switch u.SaslState {
	case SaslWaitingForData:
		handleSaslPlainChunk(c, u, payload)
	case SaslWaitingForExternal:
		handleSaslExternal(c, u)
	case SaslWaitingForScramClientFirst, SaslWaitingForScramClientFinal:
		handleSaslScram(c, u, payload)
	}
}

func handleSaslPlainChunk(c *LocalClient, u *UnregisteredState, chunk string) {
	if chunk != "+" {
		decoded, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			saslFail(c, u)
			return
		}
		u.SaslBuffer = append(u.SaslBuffer, decoded...)
		if len(u.SaslBuffer) > saslBufferCap {
			saslFail(c, u)
			return
		}
		if len(chunk) == 400 {
			return // more chunks to come
		}
	}

	parts := strings.SplitN(string(u.SaslBuffer), "\x00", 3)
	zeroize(u.SaslBuffer)
	u.SaslBuffer = nil

	if len(parts) != 3 {
		saslFail(c, u)
		return
	}
	authzid, authcid, password := parts[0], parts[1], parts[2]
	_ = authzid

	account, ok := c.Catbox.Accounts.VerifyPassword(authcid, password)
	zeroize([]byte(password))
	if !ok {
		saslFail(c, u)
		return
	}

	saslSuccess(c, u, account)
}

func handleSaslExternal(c *LocalClient, u *UnregisteredState) {
	certfp := c.Conn.CertificateFingerprint()
	account, ok := c.Catbox.Accounts.VerifyCertFP(certfp)
	if !ok {
		saslFail(c, u)
		return
	}
	saslSuccess(c, u, account)
}

// SCRAM-SHA-256 two-roundtrip exchange (spec §4.C). Simplified to the
// essential bind-less exchange: client-first carries "n,,n=user,r=nonce";
// we reply with server-first "r=nonce+snonce,s=salt,i=iterations"; the
// client-final carries the proof, which we verify against the stored
// SaltedPassword.
func handleSaslScram(c *LocalClient, u *UnregisteredState, payload string) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		saslFail(c, u)
		return
	}

	if u.SaslState == SaslWaitingForScramClientFirst {
		user, clientNonce, ok := parseScramClientFirst(string(raw))
		if !ok {
			saslFail(c, u)
			return
		}
		salt, iterations, ok := c.Catbox.Accounts.ScramParams(user)
		if !ok {
			saslFail(c, u)
			return
		}
		serverNonce := clientNonce + "server"
		u.SaslMechanism = "SCRAM-SHA-256:" + user + ":" + clientNonce + ":" + serverNonce
		u.SaslState = SaslWaitingForScramClientFinal
		resp := "r=" + serverNonce + ",s=" + base64.StdEncoding.EncodeToString([]byte(salt)) +
			",i=" + itoa(iterations)
		_ = c.messageFromServer("AUTHENTICATE", []string{base64.StdEncoding.EncodeToString([]byte(resp))})
		return
	}

	fields := strings.Split(u.SaslMechanism, ":")
	if len(fields) != 3 {
		saslFail(c, u)
		return
	}
	user := fields[1]

	saltedPassword, ok := c.Catbox.Accounts.SaltedPassword(user)
	if !ok {
		saslFail(c, u)
		return
	}

	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)

	proof := extractScramField(string(raw), "p")
	if proof == "" {
		saslFail(c, u)
		return
	}
	clientProof, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		saslFail(c, u)
		return
	}

	authMessage := string(raw)
	clientSig := hmacSHA256(storedKey[:], []byte(authMessage))
	recoveredClientKey := xorBytes(clientProof, clientSig)
	recoveredStoredKey := sha256.Sum256(recoveredClientKey)

	if subtle.ConstantTimeCompare(recoveredStoredKey[:], storedKey[:]) != 1 {
		saslFail(c, u)
		return
	}

	saslSuccess(c, u, user)
}

func parseScramClientFirst(s string) (user, nonce string, ok bool) {
	if !strings.HasPrefix(s, "n,,") {
		return "", "", false
	}
	body := s[3:]
	user = extractScramField(body, "n")
	nonce = extractScramField(body, "r")
	return user, nonce, user != "" && nonce != ""
}

func extractScramField(s, key string) string {
	for _, part := range strings.Split(s, ",") {
		if strings.HasPrefix(part, key+"=") {
			return part[len(key)+1:]
		}
	}
	return ""
}

func hmacSHA256(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// deriveSaltedPassword is used by AccountStore when provisioning/
// checking SCRAM credentials, using pbkdf2 over HMAC-SHA256 per RFC 5802.
func deriveSaltedPassword(password, salt string, iterations int) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), iterations, sha256.Size, sha256.New)
}

func saslFail(c *LocalClient, u *UnregisteredState) {
	u.SaslState = SaslNone
	u.SaslBuffer = nil
	_ = c.messageFromServer("904", []string{"SASL authentication failed"})
}

func saslSuccess(c *LocalClient, u *UnregisteredState, account string) {
	u.SaslState = SaslAuthenticated
	c.Session.Account = account
	_ = c.messageFromServer("900", []string{"*", "*!*@*", account,
		"You are now logged in as " + account})
	_ = c.messageFromServer("903", []string{"SASL authentication successful"})

	if c.LocalUser != nil {
		c.LocalUser.User.Account = account
		c.Catbox.Monitor.NotifyAccount(c.LocalUser.User)
	}
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
