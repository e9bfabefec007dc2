package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sheetviz/backend/internal/auth"
	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/store"
	"github.com/sheetviz/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type decodeOutput struct {
	Sheets   []models.SheetData `json:"sheets"`
	Metadata models.Metadata    `json:"metadata"`
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "decode", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--tab")
	assert.Contains(t, out, "--pretty")

	out, err = execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "decode", "upload", "user", "token"} {
		assert.Contains(t, out, sub)
	}
}

func TestDecodeCmd(t *testing.T) {
	data := testutil.BuildWorkbook(t,
		testutil.Sheet{Name: "Sales", Rows: [][]any{{"Region", "Total"}, {"North", 10}, {"South", 20}}},
		testutil.Sheet{Name: "Notes", Rows: [][]any{{"Text"}, {"ok"}}},
	)
	path := filepath.Join(t.TempDir(), "sales.xlsx")
	require.NoError(t, os.WriteFile(path, data, 0644))

	t.Run("all tabs", func(t *testing.T) {
		out, err := execute(t, "decode", path)
		require.NoError(t, err)

		var res decodeOutput
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Sheets, 2)
		assert.Equal(t, "Sales", res.Sheets[0].Name)
		assert.Equal(t, 3, res.Metadata.TotalRows)
		assert.Equal(t, ".xlsx", res.Metadata.FileType)
	})

	t.Run("selected tab", func(t *testing.T) {
		out, err := execute(t, "decode", "--tab", "Notes", path)
		require.NoError(t, err)

		var res decodeOutput
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Sheets, 1)
		assert.Equal(t, "Notes", res.Sheets[0].Name)
	})

	t.Run("legacy workbook", func(t *testing.T) {
		out, err := execute(t, "decode", filepath.Join("..", "..", "internal", "parser", "testdata", "table.xls"))
		require.NoError(t, err)

		var res decodeOutput
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Sheets, 1)
		assert.Equal(t, []string{"Code", "Name", "Description"}, res.Sheets[0].Columns)
		assert.Equal(t, ".xls", res.Metadata.FileType)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "decode", filepath.Join(t.TempDir(), "nope.xlsx"))
		assert.ErrorContains(t, err, "decode failed")
	})
}

func TestTokenCmd(t *testing.T) {
	for _, k := range []string{"PORT", "DATA_DIR", "DATABASE_DRIVER", "DATABASE_URL", "JWT_SECRET", "LOG_LEVEL", "MAX_UPLOAD_MB"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "sheetviz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\nauth:\n  jwt_secret: s3cret\n"), 0644))

	out, err := execute(t, "--config", path, "token", "user-7")
	require.NoError(t, err)

	tokens, err := auth.NewTokens("s3cret", time.Hour)
	require.NoError(t, err)
	id, err := tokens.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-7", id)
}

func TestSeedUser(t *testing.T) {
	ctx := context.Background()
	users := store.NewMemoryStore()
	tokens, err := auth.NewTokens("secret", time.Hour)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, seedUser(ctx, &out, users, tokens, "dev@example.com"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Dev user dev@example.com ("))
	require.True(t, strings.HasPrefix(lines[1], "Token: "))

	id, err := tokens.Verify(strings.TrimPrefix(lines[1], "Token: "))
	require.NoError(t, err)
	u, err := users.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", u.Email)

	out.Reset()
	require.NoError(t, seedUser(ctx, &out, users, tokens, "dev@example.com"), "existing account is left alone")
	assert.Empty(t, out.String())
}
