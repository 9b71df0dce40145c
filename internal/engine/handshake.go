package engine

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// authenticate performs a SCRAM-SHA-256 exchange against the engine's
// connect handshake, adapted from the SASL exchange a PostgreSQL
// backend runs for AuthenticationSASL/SASLContinue/SASLFinal. The
// engine's connect opcode plays the role of the startup message; its
// OK/Error responses play the role of AuthenticationSASLContinue and
// AuthenticationSASLFinal.
func authenticate(conn net.Conn, r *bufio.Reader, user, password string) error {
	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	clientNonce := base64.StdEncoding.EncodeToString(nonceBytes)

	clientFirstBare := fmt.Sprintf("n=%s,r=%s", saslEscapeUsername(user), clientNonce)
	if err := writeMessage(conn, opConnect, []byte(clientFirstBare)); err != nil {
		return fmt.Errorf("sending client-first-message: %w", err)
	}

	op, payload, err := readMessage(r)
	if err != nil {
		return fmt.Errorf("reading server-first-message: %w", err)
	}
	if op == opError {
		return fmt.Errorf("%w: %s", ErrAuthFailed, string(payload))
	}
	if op != opOK {
		return fmt.Errorf("unexpected handshake opcode %q", rune(op))
	}

	serverNonce, salt, iterations, err := parseServerFirst(string(payload))
	if err != nil {
		return fmt.Errorf("parsing server-first-message: %w", err)
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return fmt.Errorf("server nonce does not start with client nonce")
	}

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)
	authMessage := clientFirstBare + "," + string(payload) + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)
	clientFinalMsg := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)

	if err := writeMessage(conn, opConnect, []byte(clientFinalMsg)); err != nil {
		return fmt.Errorf("sending client-final-message: %w", err)
	}

	op, payload, err = readMessage(r)
	if err != nil {
		return fmt.Errorf("reading server-final-message: %w", err)
	}
	if op == opError {
		return fmt.Errorf("%w: %s", ErrAuthFailed, string(payload))
	}
	if op != opOK {
		return fmt.Errorf("unexpected handshake opcode %q", rune(op))
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	expectedServerSig := hmacSHA256(serverKey, []byte(authMessage))
	expectedServerFinal := "v=" + base64.StdEncoding.EncodeToString(expectedServerSig)
	if string(payload) != expectedServerFinal {
		return fmt.Errorf("server signature mismatch")
	}
	return nil
}

// parseServerFirst parses "r=<nonce>,s=<salt>,i=<iterations>" from the server.
func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	parts := strings.Split(msg, ",")
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			fmt.Sscanf(part[2:], "%d", &iterations)
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

func saslEscapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}
