package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
)

// Pipeline describes one table to fetch and load.
//
//	pipelines:
//	  - name: flaechennutzung
//	    source: regionalstatistik
//	    table: 33111-01-02-4
//	    start_year: 2009
//	    end_year: 2024
//	    filters:
//	      regional_variable: KREISE
//	      regional_key: "05*"
type Pipeline struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Source      string          `yaml:"source" json:"source"`
	Table       string          `yaml:"table" json:"table"`
	StartYear   int             `yaml:"start_year" json:"start_year"`
	EndYear     int             `yaml:"end_year" json:"end_year"`
	Format      string          `yaml:"format,omitempty" json:"format,omitempty"`
	Area        string          `yaml:"area,omitempty" json:"area,omitempty"`
	Filters     genesis.Filters `yaml:"filters,omitempty" json:"filters,omitempty"`
	Disabled    bool            `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

func (p Pipeline) TableRequest() genesis.TableRequest {
	return genesis.TableRequest{
		TableID:   p.Table,
		StartYear: p.StartYear,
		EndYear:   p.EndYear,
		Format:    p.Format,
		Area:      p.Area,
		Filters:   p.Filters,
	}
}

type pipelineFile struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// LoadPipelines reads and validates a pipeline definition file.
func LoadPipelines(path string) ([]Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipelines file: %w", err)
	}
	return ParsePipelines(data)
}

func ParsePipelines(data []byte) ([]Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var pf pipelineFile
	if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid pipelines file: %w", err)
	}
	if err := ValidatePipelines(pf.Pipelines); err != nil {
		return nil, err
	}
	return pf.Pipelines, nil
}

func ValidatePipelines(pipelines []Pipeline) error {
	seen := make(map[string]bool, len(pipelines))
	for i, p := range pipelines {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("pipeline %d: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("pipeline %s: duplicate name", name)
		}
		seen[name] = true
		if _, ok := genesis.Presets[p.Source]; !ok {
			return fmt.Errorf("pipeline %s: unknown source %q", name, p.Source)
		}
		if p.Format != "" && p.Format != genesis.DefaultFormat {
			return fmt.Errorf("pipeline %s: only %s can be loaded, got format %q", name, genesis.DefaultFormat, p.Format)
		}
		if err := p.TableRequest().Validate(); err != nil {
			return fmt.Errorf("pipeline %s: %w", name, err)
		}
	}
	return nil
}
