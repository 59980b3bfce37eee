package control

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Kind: ReqStart, Name: "nginx.service", Mode: "replace"}
	require.NoError(t, WriteFrame(&buf, req))

	var got Request
	require.NoError(t, ReadFrame(&buf, &got))
	require.Equal(t, req, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff})
	var got Request
	require.Error(t, ReadFrame(&buf, &got))
}

func TestResponseRoundTripsUnitsAndError(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{
		Kind:  RespUnits,
		Units: []UnitInfo{{Name: "a.service", Active: "active"}},
	}
	require.NoError(t, WriteFrame(&buf, resp))

	var got Response
	require.NoError(t, ReadFrame(&buf, &got))
	require.Equal(t, resp, got)
}
