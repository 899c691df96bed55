// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/rpc"
)

// NewJWTAuth creates an rpc client authentication provider that uses JWT. The
// token is signed with HS256 and carries only the issued-at claim, which the
// node accepts within 60 seconds of its own clock.
func NewJWTAuth(jwtsecret [32]byte) rpc.HTTPAuth {
	return func(h http.Header) error {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iat": &jwt.NumericDate{Time: time.Now()},
		})
		s, err := token.SignedString(jwtsecret[:])
		if err != nil {
			return fmt.Errorf("failed to create JWT token: %w", err)
		}
		h.Set("Authorization", "Bearer "+s)
		return nil
	}
}

// ReadJWTSecret loads the hex encoded 32 byte secret stored at fileName.
func ReadJWTSecret(fileName string) ([32]byte, error) {
	var secret [32]byte
	data, err := os.ReadFile(fileName)
	if err != nil {
		return secret, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
	if err != nil {
		return secret, fmt.Errorf("invalid JWT secret in %s: %w", fileName, err)
	}
	if len(raw) != len(secret) {
		return secret, fmt.Errorf("invalid JWT secret in %s: want %d bytes, have %d", fileName, len(secret), len(raw))
	}
	copy(secret[:], raw)
	return secret, nil
}

// obtainJWTSecret loads the jwt-secret, either from the provided config,
// or from the default location. If neither of those are present, it generates
// a new secret and stores to the default location.
// obtainJWTSecret 读取 JWT 密钥，文件不存在时生成新的密钥并写入该文件。
func obtainJWTSecret(fileName string) ([]byte, error) {
	secret, err := ReadJWTSecret(fileName)
	if err == nil {
		log.Info("Loaded JWT secret file", "path", fileName)
		return secret[:], nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	// Need to generate one
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fileName), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(fileName, []byte("0x"+hex.EncodeToString(secret[:])), 0600); err != nil {
		return nil, err
	}
	log.Info("Generated JWT secret", "path", fileName)
	return secret[:], nil
}
