package sshkeys

import (
	"fmt"
	"log"
	"net"

	"golang.org/x/crypto/ssh"
)

// FingerprintMismatchError is returned when a public key does not match the
// fingerprint recorded for it.
type FingerprintMismatchError struct {
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("key fingerprint mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Fingerprint computes the SHA256 fingerprint of a public key in
// authorized_keys format, in the standard "SHA256:..." form.
func Fingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("fingerprint: public key is empty")
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("fingerprint: parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(parsed), nil
}

// VerifyFingerprint checks a public key against a recorded fingerprint. An
// empty expected fingerprint passes, so first contact with a host needs no
// prior record.
func VerifyFingerprint(publicKey []byte, expected string) error {
	if expected == "" {
		return nil
	}
	actual, err := Fingerprint(publicKey)
	if err != nil {
		return fmt.Errorf("verify fingerprint: %w", err)
	}
	if actual != expected {
		return &FingerprintMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

// HostKeyRecorder returns an ssh.HostKeyCallback that accepts any host key
// and records its fingerprint at *string. When expected is non-empty and the
// presented key differs, the callback logs a warning but still accepts;
// target hosts get reinstalled and regenerate host keys, so a hard failure
// here would strand them.
func HostKeyRecorder(expected string) (ssh.HostKeyCallback, *string) {
	var actual string
	cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		actual = ssh.FingerprintSHA256(key)
		if expected != "" && expected != actual {
			log.Printf("[sshkeys] WARNING: host key changed for %s: expected %s, got %s", hostname, expected, actual)
		}
		return nil
	}
	return cb, &actual
}
