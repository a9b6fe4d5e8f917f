// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesis

import (
	"fmt"
	"net/http"

	"github.com/awnumar/memguard"
)

// =============================================================================
// SEALED API KEY
// =============================================================================

// sealedKey keeps an API key encrypted in memory between requests.
//
// # Description
//
// The key lives in a memguard Enclave and is decrypted into a LockedBuffer
// only while a header value is being built. The plaintext buffer is
// destroyed before the request leaves the process.
//
// # Thread Safety
//
// Safe for concurrent use. Enclave.Open is goroutine-safe.
type sealedKey struct {
	enclave *memguard.Enclave
}

// newSealedKey seals value. The input slice is wiped by memguard.
// An empty value yields a key for which present() is false.
func newSealedKey(value string) *sealedKey {
	if value == "" {
		return &sealedKey{}
	}
	return &sealedKey{enclave: memguard.NewEnclave([]byte(value))}
}

func (k *sealedKey) present() bool {
	return k != nil && k.enclave != nil
}

// headerValue returns prefix followed by the key, as a fresh string.
func (k *sealedKey) headerValue(prefix string) (string, error) {
	if !k.present() {
		return "", ErrMissingAPIKey
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open sealed API key: %w", err)
	}
	defer buf.Destroy()

	// Concatenation copies out of the locked buffer before it is destroyed.
	return prefix + buf.String(), nil
}

// =============================================================================
// AUTH TRANSPORT
// =============================================================================

// authTransport injects an authorization header from a sealed key.
type authTransport struct {
	base   http.RoundTripper
	key    *sealedKey
	header string
	prefix string
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	value, err := t.key.headerValue(t.prefix)
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(t.header, value)
	return t.base.RoundTrip(clone)
}

// newAuthHTTPClient returns an http.Client that authenticates every request.
func newAuthHTTPClient(key *sealedKey, header, prefix string) *http.Client {
	return &http.Client{
		Transport: &authTransport{
			base:   http.DefaultTransport.(*http.Transport).Clone(),
			key:    key,
			header: header,
			prefix: prefix,
		},
	}
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (t *authTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}
