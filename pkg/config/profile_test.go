package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
name: attestations
description: Attestation ledger
modules:
  - name: proofs
    version: 1.0.0
    enabled: true
    options:
      require_issuer: true
  - name: schema
    version: 0.3.1
    enabled: true
streams:
  - stream: proofs
    schema:
      type: object
      required: [subject_oid]
    policy: 'payload.subject_oid != ""'
`

func writeProfile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, t.TempDir(), "attestations.yaml", sampleProfile)

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "attestations", p.Name)
	require.Len(t, p.Modules, 2)
	assert.Equal(t, "proofs", p.Modules[0].Name)
	assert.Equal(t, true, p.Modules[0].Options["require_issuer"])

	sp, ok := p.StreamProfileFor("proofs")
	require.True(t, ok)
	assert.NotEmpty(t, sp.Policy)
	assert.Equal(t, "object", sp.Schema["type"])

	_, ok = p.StreamProfileFor("unknown")
	assert.False(t, ok)
}

func TestLoadProfileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	path := writeProfile(t, dir, "noname.yaml", "description: nameless\n")
	_, err := LoadProfile(path)
	assert.Error(t, err)

	path = writeProfile(t, dir, "badver.yaml", `
name: x
modules:
  - name: m
    version: not-a-version
    enabled: true
`)
	_, err = LoadProfile(path)
	assert.ErrorContains(t, err, "invalid version")

	path = writeProfile(t, dir, "dupstream.yaml", `
name: y
streams:
  - stream: a
  - stream: a
`)
	_, err = LoadProfile(path)
	assert.ErrorContains(t, err, "duplicate stream")

	path = writeProfile(t, dir, "notyaml.yaml", "::: not yaml {{{")
	_, err = LoadProfile(path)
	assert.Error(t, err)
}

func TestLoadProfilesDir(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.yaml", "name: ledger-a\n")
	writeProfile(t, dir, "b.yml", "name: ledger-b\n")
	writeProfile(t, dir, "ignored.txt", "name: ledger-c\n")

	profiles, err := LoadProfilesDir(dir)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Contains(t, profiles, "ledger-a")
	assert.Contains(t, profiles, "ledger-b")
}

func TestLoadProfilesDirRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.yaml", "name: same\n")
	writeProfile(t, dir, "b.yaml", "name: same\n")

	_, err := LoadProfilesDir(dir)
	assert.ErrorContains(t, err, "duplicate profile name")
}
