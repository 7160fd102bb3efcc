// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
digest.go - HTTP Digest Authentication Session

Hikvision access controllers authenticate ISAPI requests with HTTP Digest
(RFC 7616, MD5 variant). The device hands out a nonce in a 401 challenge
and expects every subsequent request to carry an Authorization header
derived from it. Nonces age out on the device side, at which point requests
start failing with 401 again and the session must be re-primed.

digestSession holds one parsed challenge plus the client nonce counter. It
is safe for concurrent use; the nonce count is advanced under a mutex so
two in-flight requests never reuse an (nc, cnonce) pair.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"crypto/md5" //nolint:gosec // Digest auth is defined over MD5; the device offers nothing stronger
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// digestSession is the state of one authenticated exchange with a device.
type digestSession struct {
	username string
	password string

	realm     string
	nonce     string
	opaque    string
	qop       string
	algorithm string

	mu sync.Mutex
	nc uint32
}

// newDigestSession parses a WWW-Authenticate challenge header into a ready
// session. Only the Digest scheme with MD5 is supported; that is the only
// scheme Hikvision firmware emits.
func newDigestSession(username, password, challenge string) (*digestSession, error) {
	const prefix = "Digest "
	if !strings.HasPrefix(challenge, prefix) {
		return nil, fmt.Errorf("unsupported auth scheme in challenge %q", challenge)
	}

	s := &digestSession{
		username:  username,
		password:  password,
		algorithm: "MD5",
	}

	for _, part := range splitChallenge(challenge[len(prefix):]) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "realm":
			s.realm = value
		case "nonce":
			s.nonce = value
		case "opaque":
			s.opaque = value
		case "qop":
			// The device may offer "auth,auth-int"; we only implement auth.
			for _, q := range strings.Split(value, ",") {
				if strings.TrimSpace(q) == "auth" {
					s.qop = "auth"
					break
				}
			}
		case "algorithm":
			s.algorithm = value
		}
	}

	if s.nonce == "" {
		return nil, fmt.Errorf("challenge has no nonce: %q", challenge)
	}
	if !strings.EqualFold(s.algorithm, "MD5") {
		return nil, fmt.Errorf("unsupported digest algorithm %q", s.algorithm)
	}

	return s, nil
}

// splitChallenge splits a challenge parameter list on commas that are not
// inside quoted values. Hikvision quotes realm and nonce but qop lists can
// embed commas.
func splitChallenge(params string) []string {
	var parts []string
	var sb strings.Builder
	inQuotes := false

	for _, r := range params {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			sb.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, strings.TrimSpace(sb.String()))
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		parts = append(parts, strings.TrimSpace(sb.String()))
	}
	return parts
}

// authorize computes the Authorization header value for one request.
func (s *digestSession) authorize(method, uri string) (string, error) {
	s.mu.Lock()
	s.nc++
	nc := s.nc
	s.mu.Unlock()

	cnonce, err := randomCnonce()
	if err != nil {
		return "", fmt.Errorf("generate cnonce: %w", err)
	}

	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", s.username, s.realm, s.password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	var response string
	if s.qop == "auth" {
		response = md5Hex(fmt.Sprintf("%s:%s:%08x:%s:%s:%s", ha1, s.nonce, nc, cnonce, s.qop, ha2))
	} else {
		response = md5Hex(fmt.Sprintf("%s:%s:%s", ha1, s.nonce, ha2))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		s.username, s.realm, s.nonce, uri, response)
	if s.qop == "auth" {
		fmt.Fprintf(&sb, `, qop=auth, nc=%08x, cnonce=%q`, nc, cnonce)
	}
	if s.opaque != "" {
		fmt.Fprintf(&sb, `, opaque=%q`, s.opaque)
	}
	fmt.Fprintf(&sb, `, algorithm=MD5`)

	return sb.String(), nil
}

func md5Hex(data string) string {
	sum := md5.Sum([]byte(data)) //nolint:gosec // See file header; Digest auth mandates MD5
	return hex.EncodeToString(sum[:])
}

func randomCnonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
