// Copyright 2015 The go-ethereum Authors
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

package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithCommit(t *testing.T) {
	assert.Equal(t, WithMeta, WithCommit("", ""))
	assert.Equal(t, WithMeta+"-12345678", WithCommit("1234567890abcdef", ""))
	assert.Equal(t, WithMeta+"-12345678-20250101", WithCommit("1234567890abcdef", "20250101"))
	assert.Equal(t, WithMeta, WithCommit("1234", ""), "short commits are dropped")
}

func TestBuildInfoVCS(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abcdef0123456789"},
		{Key: "vcs.time", Value: "2025-03-04T05:06:07Z"},
		{Key: "vcs.modified", Value: "true"},
	}}
	vcs, ok := buildInfoVCS(info)
	assert.True(t, ok)
	assert.Equal(t, VCSInfo{Commit: "abcdef0123456789", Date: "20250304", Dirty: true}, vcs)

	assert.Equal(t, "abcdef01-20250304-dirty", vcs.String())

	_, ok = buildInfoVCS(&debug.BuildInfo{})
	assert.False(t, ok)
	_, ok = buildInfoVCS(&debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abcdef0123456789"},
	}})
	assert.False(t, ok, "a revision without commit time is incomplete")
}

func TestVCSInfoString(t *testing.T) {
	assert.Equal(t, "", VCSInfo{}.String())
	assert.Equal(t, "1234", VCSInfo{Commit: "1234"}.String())
	assert.Equal(t, "12345678-20250101", VCSInfo{Commit: "1234567890", Date: "20250101"}.String())
}

func TestInfo(t *testing.T) {
	s := Info("duplex")
	assert.True(t, strings.HasPrefix(s, "Duplex\n"))
	assert.Contains(t, s, "Version: "+WithMeta)
	assert.Contains(t, s, "Go Version:")
}
