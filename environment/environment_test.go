package environment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEnvironment = `{
	// rooms are listed in display order
	"rooms": ["Office", "Kitchen", "Hallway"],
	"services": {
		"Kitchen": [
			{ "label": "Lights", "service": "Philips Hue", "options": { "lights": ["1", "2"] } },
		],
		"Office": [
			{ "label": "Desk", "service": "Philips Hue" },
		],
	},
}`

func TestFromSource(t *testing.T) {
	env, err := FromSource(strings.NewReader(sampleEnvironment))
	require.NoError(t, err)

	assert.Equal(t, []string{"Office", "Kitchen", "Hallway"}, env.Rooms())
	assert.True(t, env.HasRoom("Hallway"))
	assert.False(t, env.HasRoom("Garage"))

	kitchen := env.Services("Kitchen")
	require.Len(t, kitchen, 1)
	assert.Equal(t, "Lights", kitchen[0].Label)
	assert.Equal(t, "Philips Hue", kitchen[0].Service)
	assert.JSONEq(t, `{"lights":["1","2"]}`, string(kitchen[0].Options))

	// Missing options default to an empty object.
	office := env.Services("Office")
	require.Len(t, office, 1)
	assert.JSONEq(t, `{}`, string(office[0].Options))

	// A room without a services entry has an empty, non-nil list.
	hallway := env.Services("Hallway")
	assert.NotNil(t, hallway)
	assert.Empty(t, hallway)
}

func TestFromSource_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "malformed", source: `{"rooms": [`},
		{name: "unknown field", source: `{"rooms": [], "zones": []}`},
		{name: "empty room name", source: `{"rooms": [""]}`},
		{name: "duplicate room", source: `{"rooms": ["Kitchen", "Kitchen"]}`},
		{name: "services in unknown room", source: `{"rooms": ["Kitchen"], "services": {"Garage": []}}`},
		{name: "missing label", source: `{"rooms": ["Kitchen"], "services": {"Kitchen": [{"service": "Philips Hue"}]}}`},
		{name: "missing kind", source: `{"rooms": ["Kitchen"], "services": {"Kitchen": [{"label": "Lights"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := FromSource(strings.NewReader(tt.source))
			assert.Nil(t, env)

			var invalid *InvalidEnvironmentError
			assert.True(t, errors.As(err, &invalid), "expected InvalidEnvironmentError, got %v", err)
		})
	}
}

// Every environment that parses has all service rooms listed in its rooms.
func TestFromSource_RoomInvariant(t *testing.T) {
	rooms := []string{"A", "B", "C"}
	for mask := 0; mask < 1<<len(rooms); mask++ {
		for target := range rooms {
			var listed []string
			for i, room := range rooms {
				if mask&(1<<i) != 0 {
					listed = append(listed, room)
				}
			}
			file := map[string]any{
				"rooms": listed,
				"services": map[string]any{
					rooms[target]: []map[string]any{{"label": "x", "service": "kind"}},
				},
			}
			data, err := json.Marshal(file)
			require.NoError(t, err)

			env, err := FromSource(strings.NewReader(string(data)))
			if err != nil {
				assert.Nil(t, env)
				continue
			}
			for _, placed := range env.Descriptors() {
				assert.True(t, env.HasRoom(placed.Room), "mask=%d room=%s", mask, placed.Room)
			}
		}
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environment.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleEnvironment), 0o644))

	env, err := FromFile(path)
	require.NoError(t, err)
	assert.Len(t, env.Rooms(), 3)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.json"))
	var invalid *InvalidEnvironmentError
	assert.True(t, errors.As(err, &invalid))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEmpty(t *testing.T) {
	env := Empty()
	assert.Empty(t, env.Rooms())
	assert.Empty(t, env.Descriptors())
	assert.Empty(t, env.Services("Kitchen"))
}

func TestDescriptors_Order(t *testing.T) {
	env, err := FromSource(strings.NewReader(`{
		"rooms": ["Office", "Kitchen"],
		"services": {
			"Kitchen": [{"label": "k1", "service": "s"}, {"label": "k2", "service": "s"}],
			"Office": [{"label": "o1", "service": "s"}]
		}
	}`))
	require.NoError(t, err)

	var got []string
	for _, placed := range env.Descriptors() {
		got = append(got, fmt.Sprintf("%s/%d/%s", placed.Room, placed.Index, placed.Descriptor.Label))
	}
	want := []string{"Office/0/o1", "Kitchen/0/k1", "Kitchen/1/k2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Descriptors() mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	env, err := FromSource(strings.NewReader(sampleEnvironment))
	require.NoError(t, err)

	rooms := env.Rooms()
	rooms[0] = "Changed"
	services := env.Services("Kitchen")
	services[0].Label = "Changed"
	services[0].Options[0] = 'x'

	assert.Equal(t, "Office", env.Rooms()[0])
	assert.Equal(t, "Lights", env.Services("Kitchen")[0].Label)
	assert.JSONEq(t, `{"lights":["1","2"]}`, string(env.Services("Kitchen")[0].Options))
}

func TestFromSource_ErrorIsStable(t *testing.T) {
	tests := []struct {
		name   string
		source string
		reason string
	}{
		{
			name:   "unknown rooms",
			source: `{"rooms": ["Kitchen"], "services": {"Zeta": [], "Attic": [], "Garage": []}}`,
			reason: `unknown room "Attic"`,
		},
		{
			name: "invalid descriptors in several rooms",
			source: `{"rooms": ["Office", "Kitchen", "Hallway"], "services": {
				"Hallway": [{"service": "Philips Hue"}],
				"Kitchen": [{"label": "Lights"}],
				"Office": [{"label": "Desk", "service": "Philips Hue"}, {"service": "Philips Hue"}]
			}}`,
			reason: `service 1 in room "Office" has no label`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				_, err := FromSource(strings.NewReader(tt.source))
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.reason)
			}
		})
	}
}
