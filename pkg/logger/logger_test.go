package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/pkg/logger"
)

func TestComponent_AgregaCampo(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Env: "production", Level: "debug", Out: &buf})

	log.Component("folio").Info().Int64("folio", 7).Msg("folio asignado")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "folio", line["component"])
	assert.Equal(t, "folio asignado", line["message"])
	assert.EqualValues(t, 7, line["folio"])
}

func TestNew_NivelPorDefectoInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Env: "production", Out: &buf})
	log.Debug().Msg("no debe aparecer")
	assert.Empty(t, buf.String())
}

func TestNop_NoPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		logger.Nop().Component("x").Warn().Msg("silencio")
	})
}
