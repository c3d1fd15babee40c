package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/quickorder/internal/platform/config"
)

const testSeed = `products:
  - sku: A
    name: Round stamp
    qty: 5
  - sku: KIT
    kind: composite
    qty: 9
`

func memoryConfig(context.Context) (config.Config, error) {
	return config.Config{
		Backend:    config.BackendMemory,
		Events:     config.EventsConfig{Sink: config.EventSinkNone},
		QuickOrder: config.QuickOrderConfig{MaxItems: 20, DefaultLocale: "en"},
	}, nil
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0o600))
	return path
}

func execute(t *testing.T, load configLoader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, load)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddReportsEveryLine(t *testing.T) {
	out, err := execute(t, memoryConfig, "add", "--seed", writeSeed(t), "--sku", "A, KIT, NOPE", "--qty", "7, 1, 1")
	require.NoError(t, err)

	assert.Contains(t, out, "error   A: only 5 could be added")
	assert.Contains(t, out, "error   KIT: product is not simple")
	assert.Contains(t, out, "error   NOPE: product does not exist or has no quantity")
}

func TestAddJSONOutput(t *testing.T) {
	out, err := execute(t, memoryConfig, "add", "--json", "--seed", writeSeed(t), "--cart", "c-1", "--sku", "A", "--qty", "2")
	require.NoError(t, err)

	var payload struct {
		CartID string `json:"cartId"`
		Items  []struct {
			Identifier string `json:"identifier"`
			Outcome    string `json:"outcome"`
			Added      int    `json:"added"`
		} `json:"items"`
		Messages []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "c-1", payload.CartID)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "added", payload.Items[0].Outcome)
	assert.Equal(t, 2, payload.Items[0].Added)
	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "success", payload.Messages[0].Kind)
}

func TestAddLocalisesMessages(t *testing.T) {
	english, err := execute(t, memoryConfig, "add", "--seed", writeSeed(t), "--sku", "A", "--qty", "1")
	require.NoError(t, err)
	japanese, err := execute(t, memoryConfig, "add", "--lang", "ja", "--seed", writeSeed(t), "--sku", "A", "--qty", "1")
	require.NoError(t, err)

	assert.Contains(t, english, "product added to cart")
	assert.NotEqual(t, english, japanese)
}

func TestAddShapeErrorFails(t *testing.T) {
	out, err := execute(t, memoryConfig, "add", "--sku", "A, B", "--qty", "1")
	require.Error(t, err)
	assert.Contains(t, out, "counts do not match")
}

func TestStockTable(t *testing.T) {
	out, err := execute(t, memoryConfig, "stock", "--seed", writeSeed(t), "A", "KIT", "MISSING")
	require.NoError(t, err)

	assert.Contains(t, out, "SKU")
	assert.Regexp(t, `A\s+simple\s+5`, out)
	assert.Regexp(t, `KIT\s+composite\s+9`, out)
	assert.Regexp(t, `MISSING\s+-\s+not found`, out)
}

func TestStockRequiresArguments(t *testing.T) {
	_, err := execute(t, memoryConfig, "stock")
	require.Error(t, err)
}

func TestConfigErrorsSurface(t *testing.T) {
	failing := func(context.Context) (config.Config, error) {
		return config.Config{}, errors.New("QUICKORDER_BACKEND invalid")
	}
	_, err := execute(t, failing, "stock", "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load configuration")
}

func TestMissingSeedFile(t *testing.T) {
	_, err := execute(t, memoryConfig, "stock", "--seed", filepath.Join(t.TempDir(), "absent.yaml"), "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open seed")
}
