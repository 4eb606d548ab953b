package xmltv

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFullDocument(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteChannel(&Channel{
		ID:           "2",
		DisplayNames: []string{"2", "Westerns"},
		Icon:         "http://example.com/logo.png",
	}))

	air := time.Date(1959, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.WriteProgramme(&Programme{
		Start:       time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		Stop:        time.Date(2026, 8, 26, 12, 30, 0, 0, time.UTC),
		Channel:     "2",
		Title:       "Rawhide",
		SubTitle:    "Incident of the Town in Terror",
		Description: "The drovers reach a town gripped by fear.",
		Categories:  []string{"western", "drama"},
		Season:      1,
		Episode:     7,
		AirDate:     &air,
		Credits: []Credit{
			{Role: "director", Name: "Ted Post"},
			{Role: "actor", Name: "Eric Fleming"},
		},
	}))
	require.NoError(t, w.WriteFooter())

	out := buf.String()
	assert.Contains(t, out, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, out, `<tv generator-info-name="airwave">`)
	assert.Contains(t, out, `<channel id="2">`)
	assert.Contains(t, out, `<display-name>2</display-name>`)
	assert.Contains(t, out, `<display-name>Westerns</display-name>`)
	assert.Contains(t, out, `<icon src="http://example.com/logo.png"/>`)
	assert.Contains(t, out, `<programme start="20260826120000 +0000" stop="20260826123000 +0000" channel="2">`)
	assert.Contains(t, out, `<title lang="en">Rawhide</title>`)
	assert.Contains(t, out, `<sub-title lang="en">Incident of the Town in Terror</sub-title>`)
	assert.Contains(t, out, `<category lang="en">western</category>`)
	assert.Contains(t, out, `<category lang="en">drama</category>`)
	assert.Contains(t, out, `<date>1959</date>`)
	assert.Contains(t, out, `<director>Ted Post</director>`)
	assert.Contains(t, out, `<actor>Eric Fleming</actor>`)
	assert.Contains(t, out, `</tv>`)
}

func TestWriterEpisodeNumBothSystems(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteProgramme(&Programme{
		Start:   time.Now(),
		Stop:    time.Now().Add(time.Hour),
		Channel: "2",
		Title:   "Rawhide",
		Season:  2,
		Episode: 13,
	}))

	out := buf.String()
	assert.Contains(t, out, `<episode-num system="onscreen">S02E13</episode-num>`)
	assert.Contains(t, out, `<episode-num system="xmltv_ns">1.12.</episode-num>`)
}

func TestWriterOmitsEpisodeNumWhenUnknown(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteProgramme(&Programme{
		Start:   time.Now(),
		Stop:    time.Now().Add(time.Hour),
		Channel: "2",
		Title:   "Some Movie",
	}))

	assert.NotContains(t, buf.String(), "episode-num")
}

func TestWriterEscapesText(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteProgramme(&Programme{
		Start:   time.Now(),
		Stop:    time.Now().Add(time.Hour),
		Channel: "2",
		Title:   `Butch & Sundance <Director's Cut>`,
	}))

	out := buf.String()
	assert.Contains(t, out, "Butch &amp; Sundance &lt;Director&#39;s Cut&gt;")
	assert.NotContains(t, out, "<Director")
}

func TestWriterRejectsChannelAfterProgramme(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteProgramme(&Programme{
		Start:   time.Now(),
		Stop:    time.Now().Add(time.Hour),
		Channel: "2",
		Title:   "Rawhide",
	}))
	err := w.WriteChannel(&Channel{ID: "3", DisplayNames: []string{"3"}})
	require.Error(t, err)
}

func TestWriterTimesAlwaysUTC(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	loc := time.FixedZone("CET", 3600)
	require.NoError(t, w.WriteProgramme(&Programme{
		Start:   time.Date(2026, 8, 26, 13, 0, 0, 0, loc),
		Stop:    time.Date(2026, 8, 26, 14, 0, 0, 0, loc),
		Channel: "2",
		Title:   "Rawhide",
	}))

	assert.Contains(t, buf.String(), `start="20260826120000 +0000"`)
}

func TestWriterFlags(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteProgramme(&Programme{
		Start:      time.Now(),
		Stop:       time.Now().Add(time.Hour),
		Channel:    "2",
		Title:      "Premiere Night",
		Rating:     "TV-PG",
		IsNew:      true,
		IsPremiere: true,
	}))

	out := buf.String()
	assert.Contains(t, out, "<new/>")
	assert.Contains(t, out, "<premiere/>")
	assert.Contains(t, out, "<rating><value>TV-PG</value></rating>")
	// Flags close out the programme body.
	assert.Less(t, strings.Index(out, "<rating>"), strings.Index(out, "<new/>"))
}
