// Package xmltv writes XMLTV guide documents in streaming fashion so
// large guides never buffer fully in memory.
package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Channel is one channel definition in the guide.
type Channel struct {
	ID           string
	DisplayNames []string
	Icon         string
	URL          string
}

// Credit is one person attached to a programme.
type Credit struct {
	Role string // director, actor, writer, presenter
	Name string
}

// Programme is one guide entry.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	SubTitle    string
	Description string
	Categories  []string
	Icon        string
	Language    string
	// Season and Episode are one-based; zero means unknown. When both
	// are set the writer emits onscreen and xmltv_ns episode numbers.
	Season     int
	Episode    int
	AirDate    *time.Time
	Rating     string
	IsNew      bool
	IsPremiere bool
	Credits    []Credit
}

// Writer provides streaming XMLTV writing. Channels must all be
// written before the first programme.
type Writer struct {
	w             io.Writer
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates a new XMLTV writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the XML declaration and opens the tv element.
// Called automatically by WriteChannel and WriteProgramme.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	_, err := fmt.Fprintln(w.w, `<?xml version="1.0" encoding="UTF-8"?>`)
	if err != nil {
		return fmt.Errorf("writing XML declaration: %w", err)
	}
	_, err = fmt.Fprintln(w.w, `<tv generator-info-name="airwave">`)
	if err != nil {
		return fmt.Errorf("writing tv element: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteChannel writes a channel definition.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channels must be written before programmes")
	}

	if _, err := fmt.Fprintf(w.w, "  <channel id=\"%s\">\n", xmlEscape(ch.ID)); err != nil {
		return fmt.Errorf("writing channel start: %w", err)
	}
	for _, name := range ch.DisplayNames {
		if err := w.textElem("display-name", name); err != nil {
			return err
		}
	}
	if ch.Icon != "" {
		if _, err := fmt.Fprintf(w.w, "    <icon src=\"%s\"/>\n", xmlEscape(ch.Icon)); err != nil {
			return err
		}
	}
	if ch.URL != "" {
		if err := w.textElem("url", ch.URL); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.w, "  </channel>")
	return err
}

// WriteProgramme writes a programme entry.
func (w *Writer) WriteProgramme(prog *Programme) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	_, err := fmt.Fprintf(w.w, "  <programme start=\"%s\" stop=\"%s\" channel=\"%s\">\n",
		formatXMLTVTime(prog.Start), formatXMLTVTime(prog.Stop), xmlEscape(prog.Channel))
	if err != nil {
		return fmt.Errorf("writing programme start: %w", err)
	}

	lang := prog.Language
	if lang == "" {
		lang = "en"
	}
	if err := w.langElem("title", lang, prog.Title); err != nil {
		return err
	}
	if prog.SubTitle != "" {
		if err := w.langElem("sub-title", lang, prog.SubTitle); err != nil {
			return err
		}
	}
	if prog.Description != "" {
		if err := w.langElem("desc", lang, prog.Description); err != nil {
			return err
		}
	}

	if err := w.writeCredits(prog.Credits); err != nil {
		return err
	}

	if prog.AirDate != nil {
		if err := w.textElem("date", strconv.Itoa(prog.AirDate.Year())); err != nil {
			return err
		}
	}

	for _, category := range prog.Categories {
		if err := w.langElem("category", lang, category); err != nil {
			return err
		}
	}

	if prog.Icon != "" {
		if _, err := fmt.Fprintf(w.w, "    <icon src=\"%s\"/>\n", xmlEscape(prog.Icon)); err != nil {
			return err
		}
	}

	if prog.Season > 0 && prog.Episode > 0 {
		onscreen := fmt.Sprintf("S%02dE%02d", prog.Season, prog.Episode)
		_, err = fmt.Fprintf(w.w, "    <episode-num system=\"onscreen\">%s</episode-num>\n", onscreen)
		if err != nil {
			return err
		}
		// xmltv_ns is zero-indexed.
		ns := fmt.Sprintf("%d.%d.", prog.Season-1, prog.Episode-1)
		_, err = fmt.Fprintf(w.w, "    <episode-num system=\"xmltv_ns\">%s</episode-num>\n", ns)
		if err != nil {
			return err
		}
	}

	if prog.Rating != "" {
		_, err = fmt.Fprintf(w.w, "    <rating><value>%s</value></rating>\n", xmlEscape(prog.Rating))
		if err != nil {
			return err
		}
	}

	if prog.IsNew {
		if _, err = fmt.Fprintln(w.w, "    <new/>"); err != nil {
			return err
		}
	}
	if prog.IsPremiere {
		if _, err = fmt.Fprintln(w.w, "    <premiere/>"); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintln(w.w, "  </programme>")
	return err
}

// WriteFooter closes the tv element.
func (w *Writer) WriteFooter() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w.w, `</tv>`)
	return err
}

func (w *Writer) writeCredits(credits []Credit) error {
	if len(credits) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, "    <credits>"); err != nil {
		return err
	}
	for _, c := range credits {
		role := c.Role
		if role == "" {
			role = "actor"
		}
		_, err := fmt.Fprintf(w.w, "      <%s>%s</%s>\n", role, xmlEscape(c.Name), role)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.w, "    </credits>")
	return err
}

func (w *Writer) textElem(name, text string) error {
	_, err := fmt.Fprintf(w.w, "    <%s>%s</%s>\n", name, xmlEscape(text), name)
	return err
}

func (w *Writer) langElem(name, lang, text string) error {
	_, err := fmt.Fprintf(w.w, "    <%s lang=\"%s\">%s</%s>\n", name, lang, xmlEscape(text), name)
	return err
}

// formatXMLTVTime formats a time in XMLTV format, always UTC.
func formatXMLTVTime(t time.Time) string {
	return t.UTC().Format("20060102150405 +0000")
}

// xmlEscape escapes special XML characters.
func xmlEscape(s string) string {
	var buf []byte
	xml.EscapeText((*xmlEscapeWriter)(&buf), []byte(s))
	return string(buf)
}

// xmlEscapeWriter is a helper for xml.EscapeText.
type xmlEscapeWriter []byte

func (w *xmlEscapeWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
