package template

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSources_StripsSuffixesAndDedupes(t *testing.T) {
	tpl := Template{
		ID:         1,
		Parameters: []string{"Temp_From_A", "Temp_To_B", "Pressure_Unit_C"},
	}

	sources, err := ResolveSources(tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"Temp", "Pressure"}, sources)
}

func TestResolveSources_FirstSeenOrder(t *testing.T) {
	tpl := Template{
		ID: 2,
		Parameters: []string{
			"Humidity_Unit_Pct",
			"Flow_From_Pump1",
			"Humidity_From_Zone2",
			"Flow",
		},
	}

	sources, err := ResolveSources(tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"Humidity", "Flow"}, sources)
}

func TestResolveSources_FirstMarkerWins(t *testing.T) {
	// _From_ outranks _To_ even when both appear.
	tpl := Template{ID: 3, Parameters: []string{"Temp_To_B_From_A"}}

	sources, err := ResolveSources(tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"Temp_To_B"}, sources)
}

func TestResolveSources_PlainNamePassesThrough(t *testing.T) {
	sources, err := ResolveSources(Template{ID: 4, Parameters: []string{"supply_temp"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"supply_temp"}, sources)
}

func TestResolveSources_EmptyTemplate(t *testing.T) {
	_, err := ResolveSources(Template{ID: 5})
	assert.True(t, errors.Is(err, ErrInvalidTemplate))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	store.Put(Template{ID: 7, Name: "ahu", Parameters: []string{"fan_speed"}})

	tpl, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "ahu", tpl.Name)

	_, err = store.Get(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}
