package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/hhledger/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/hhledger/internal/testutil"
)

func Test_run(t *testing.T) {
	parse := func(t *testing.T, line string) uuid.UUID {
		tm, err := tokenmanager.New(tokenmanager.Config{SecretKey: "secret"})
		require.NoError(t, err)

		require.True(t, strings.HasPrefix(line, "Bearer "))
		id, err := tm.ParseAccess(context.Background(), strings.TrimPrefix(line, "Bearer "))
		require.NoError(t, err, "printed token should be valid")
		return id
	}

	t.Run("gen secret", func(t *testing.T) {
		var out bytes.Buffer

		err := run(context.Background(), []string{"--gen-secret"}, &out)

		require.NoError(t, err)
		require.Regexp(t, `^[0-9a-f]{64}\n$`, out.String())
	})

	t.Run("issue for owner", func(t *testing.T) {
		var out bytes.Buffer
		ownerID := uuid.New()

		err := run(context.Background(), []string{"-s", "secret", "-o", ownerID.String()}, &out)

		require.NoError(t, err)
		require.Equal(t, ownerID, parse(t, strings.TrimSpace(out.String())))
	})

	t.Run("create owner", func(t *testing.T) {
		pg := testutil.StartPostgresContainer(t)
		t.Cleanup(pg.Terminate)

		var out bytes.Buffer

		err := run(context.Background(), []string{"-s", "secret", "-d", pg.DSN, "--create-owner", "alice"}, &out)

		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 2)
		ownerID, err := uuid.Parse(strings.TrimPrefix(lines[0], "owner: "))
		require.NoError(t, err)
		require.Equal(t, ownerID, parse(t, lines[1]))
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
		}{
			{"no secret", []string{"-s", "", "-o", uuid.NewString()}},
			{"no owner", []string{"-s", "secret"}},
			{"bad owner", []string{"-s", "secret", "-o", "nope"}},
			{"create without database", []string{"-s", "secret", "-d", "", "--create-owner", "bob"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := run(context.Background(), tt.args, &bytes.Buffer{})

				require.Error(t, err)
			})
		}
	})
}
