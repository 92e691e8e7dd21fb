package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/pointswallet/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDriver(t *testing.T) {
	dir := t.TempDir()
	testCases := []struct {
		name       string
		dsn        string
		wantDriver string
		wantPath   string
	}{
		{name: "postgres", dsn: "postgres://user@localhost/wallet", wantDriver: driverPostgres},
		{name: "postgresql", dsn: "postgresql://user@localhost/wallet", wantDriver: driverPostgres},
		{name: "sqlite url", dsn: "sqlite://" + filepath.Join(dir, "a.db"), wantDriver: driverSQLite, wantPath: filepath.Join(dir, "a.db")},
		{name: "bare path", dsn: filepath.Join(dir, "b.db"), wantDriver: driverSQLite, wantPath: filepath.Join(dir, "b.db")},
		{name: "memory", dsn: ":memory:", wantDriver: driverSQLite, wantPath: ":memory:"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			driver, path, err := resolveDriver(testCase.dsn)
			require.NoError(t, err)
			assert.Equal(t, testCase.wantDriver, driver)
			assert.Equal(t, testCase.wantPath, path)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"ops-1", "ops-2"}, splitList(" ops-1, ,ops-2,"))
	assert.Nil(t, splitList(""))
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"token",
		"--env-file", "",
		"--jwt-signing-key", "cli-key",
		"--subject", "pos-7",
		"--business-units", "bu-1,bu-2",
	})
	require.NoError(t, cmd.Execute())

	checker, err := auth.NewAccessChecker(auth.Config{SigningKey: "cli-key", Issuer: defaultJWTIssuer})
	require.NoError(t, err)
	claims, err := checker.Authenticate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "pos-7", claims.Subject)
	assert.Equal(t, []string{"bu-1", "bu-2"}, claims.BusinessUnits)
}

func TestSweepCommandReportsBothJobs(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"sweep",
		"--env-file", "",
		"--jwt-signing-key", "cli-key",
		"--database-url", filepath.Join(t.TempDir(), "wallet.db"),
		"--as-of", "2024-06-01T00:00:00Z",
	})
	require.NoError(t, cmd.Execute())

	var summaries []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "unlock", summaries[0]["job"])
	assert.Equal(t, "expire", summaries[1]["job"])
}

func TestMissingSigningKeyFails(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"token", "--env-file", "", "--subject", "pos-1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), flagJWTSigningKey)
}
