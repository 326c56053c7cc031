package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notecard-tools/ncfw/cmd/ncfw/directory"
	"github.com/notecard-tools/ncfw/cmd/ncfw/notehub"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_linuxFilterPaths(t *testing.T) {
	ports := []string{"/dev/ttyS0", "/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyUSB0", "/dev/random"}
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyUSB0"}, linuxFilterPaths(ports))
}

func Test_darwinFilterPaths(t *testing.T) {
	ports := []string{
		"/dev/cu.Bluetooth-Incoming-Port",
		"/dev/tty.Bluetooth-Incoming-Port",
		"/dev/cu.usbmodemNOTE1",
		"/dev/tty.usbmodemNOTE1",
		"/dev/tty.usbserial-1",
	}
	assert.Equal(t, []string{"/dev/cu.usbmodemNOTE1", "/dev/tty.usbserial-1"}, darwinFilterPaths(ports))
}

func TestShortEncoder(t *testing.T) {
	var out bytes.Buffer
	list := firmwareList{{Name: "notecard-5.3.1.16292.bin"}, {Name: "notecard-5.2.1.16100.bin"}}

	require.NoError(t, newShortEncoder(&out).Encode(list))
	assert.Equal(t, "notecard-5.3.1.16292.bin\nnotecard-5.2.1.16100.bin\n", out.String())

	assert.Error(t, newShortEncoder(&out).Encode("not elements"))
}

func Test_parseOutputFlag(t *testing.T) {
	tests := []struct {
		output  string
		wantErr bool
	}{
		{"json", false},
		{"YAML", false},
		{"short", false},
		{"xml", true},
	}
	for _, test := range tests {
		t.Run(test.output, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.Flags().String("output", test.output, "")
			enc, err := parseOutputFlag(cmd)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func Test_requestFromFlags(t *testing.T) {
	flags := pflag.NewFlagSet("update", pflag.ContinueOnError)
	addRequestFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"-f", "notecard-5.3.1.16292.bin",
		"-v", "notecard-5.3.1.16292",
		"-r", "3",
		"-c", "90s",
		"--stall-timeout", "2m",
	}))

	req, err := requestFromFlags(flags)

	require.NoError(t, err)
	assert.Equal(t, "notecard-5.3.1.16292.bin", req.Filename)
	assert.Equal(t, "notecard-5.3.1.16292", req.Version)
	assert.Equal(t, 3, req.Retries)
	assert.Equal(t, 90*time.Second, req.OpenTimeout)
	assert.Equal(t, 2*time.Minute, req.StallTimeout)
	assert.Equal(t, 30*time.Minute, req.Timeout)
	assert.Equal(t, 5*time.Second, req.PollInterval)
}

func Test_requestFromFlagsInvalid(t *testing.T) {
	tests := [][]string{
		{"-v", "notecard-5.3.1.16292"},
		{"-f", "notecard.bin", "-v", "notecard-5.3.1.16292", "-r", "0"},
		{"-f", "notecard.bin", "-v", "notecard-5.3.1.16292", "--poll-interval=-1s"},
	}
	for _, args := range tests {
		flags := pflag.NewFlagSet("update", pflag.ContinueOnError)
		addRequestFlags(flags)
		require.NoError(t, flags.Parse(args))
		_, err := requestFromFlags(flags)
		assert.Error(t, err, "%v", args)
	}
}

func firmwareServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		upload := func(name string, minor int, target string) map[string]interface{} {
			return map[string]interface{}{
				"name":   name,
				"length": 1024,
				"firmware": map[string]interface{}{
					"ver_major": 5, "ver_minor": minor, "ver_patch": 1, "ver_build": 100,
					"target": target,
				},
			}
		}
		rsp := map[string]interface{}{
			"uploads": []interface{}{
				upload("notecard-5.2.1.100.bin", 2, "r5"),
				upload("notecard-5.3.1.100.bin", 3, "r5"),
				upload("notecard-u5-5.3.1.100.bin", 3, "u5"),
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(rsp))
	}))
}

func runFirmwareCmd(t *testing.T, args ...string) (string, error) {
	t.Setenv(directory.UserConfigPathEnv, filepath.Join(t.TempDir(), "config.yaml"))
	server := firmwareServer(t)
	defer server.Close()

	var out bytes.Buffer
	cmd := FirmwareCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--notehub", server.URL))
	err := cmd.Execute()
	return out.String(), err
}

func TestFirmwareQueryCmd(t *testing.T) {
	out, err := runFirmwareCmd(t, "query")
	require.NoError(t, err)
	assert.Equal(t, "notecard-5.3.1.100.bin\n", out)

	out, err = runFirmwareCmd(t, "query", "-v", "5.2")
	require.NoError(t, err)
	assert.Equal(t, "notecard-5.2.1.100.bin\n", out)

	out, err = runFirmwareCmd(t, "query", "-t", "u5")
	require.NoError(t, err)
	assert.Equal(t, "notecard-u5-5.3.1.100.bin\n", out)

	_, err = runFirmwareCmd(t, "query", "-v", "6")
	assert.ErrorIs(t, err, notehub.ErrNoFirmware)
}

func TestFirmwareListCmd(t *testing.T) {
	out, err := runFirmwareCmd(t, "list", "--target", "r5")
	require.NoError(t, err)
	assert.Equal(t, "notecard-5.3.1.100.bin\nnotecard-5.2.1.100.bin\n", out)
}

func runConfigCmd(t *testing.T, stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := ConfigCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigNotehubSet(t *testing.T) {
	t.Setenv(directory.UserConfigPathEnv, filepath.Join(t.TempDir(), "config.yaml"))

	_, err := runConfigCmd(t, "", "notehub", "set", "https://notehub.local/")
	require.NoError(t, err)
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://notehub.local", cfg.GetString(directory.NotehubURLKey))

	out, err := runConfigCmd(t, "https://other.notehub.local\n", "notehub", "set")
	require.NoError(t, err)
	assert.Equal(t, "Enter Notehub URL: ", out)
	cfg, err = GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://other.notehub.local", cfg.GetString(directory.NotehubURLKey))

	_, err = runConfigCmd(t, "\n", "notehub", "set")
	assert.Error(t, err)
}

func TestReadLine(t *testing.T) {
	line, err := ReadLine(strings.NewReader("  https://notehub.local \nrest"))
	require.NoError(t, err)
	assert.Equal(t, "https://notehub.local", line)

	line, err = ReadLine(strings.NewReader("no newline"))
	require.NoError(t, err)
	assert.Equal(t, "no newline", line)
}
