package weather

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// siteData is the subset of the Environment Canada citypage document we use
type siteData struct {
	XMLName           xml.Name          `xml:"siteData"`
	CurrentConditions currentConditions `xml:"currentConditions"`
	Forecasts         []forecast        `xml:"forecastGroup>forecast"`
}

type measurement struct {
	Value string `xml:",chardata"`
	Units string `xml:"units,attr"`
}

type currentConditions struct {
	Condition   string      `xml:"condition"`
	Temperature measurement `xml:"temperature"`
	WindChill   measurement `xml:"windChill"`
	WindSpeed   measurement `xml:"wind>speed"`
	WindGust    measurement `xml:"wind>gust"`
}

type forecast struct {
	Period      forecastPeriod `xml:"period"`
	TextSummary string         `xml:"textSummary"`
	Temperature measurement    `xml:"temperatures>temperature"`
}

type forecastPeriod struct {
	Name     string `xml:",chardata"`
	TextName string `xml:"textForecastName,attr"`
}

// Label returns the human name of the period ("Tonight", "Tuesday", ...)
func (p forecastPeriod) Label() string {
	if p.TextName != "" {
		return p.TextName
	}
	return p.Name
}

// decodeSiteData parses a citypage document. The feed is served as ISO-8859-1.
func decodeSiteData(r io.Reader) (*siteData, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		case "iso-8859-1", "latin1", "latin-1":
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		case "windows-1252":
			return charmap.Windows1252.NewDecoder().Reader(input), nil
		}
		return nil, fmt.Errorf("unsupported charset %q", label)
	}

	var data siteData
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode weather data: %w", err)
	}
	return &data, nil
}

func (m measurement) String() string {
	v := strings.TrimSpace(m.Value)
	if v == "" {
		return ""
	}
	if m.Units != "" {
		return v + " " + m.Units
	}
	return v
}
