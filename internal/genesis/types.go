package genesis

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
)

// Status codes returned in Status.Code.
const (
	CodeOK            = 0
	CodeJobNotFound   = 22
	CodeProcessing    = 98
	CodeJobCreated    = 99
	CodeProcessingAlt = 104
)

const (
	pathTableFile  = "/data/tablefile"
	pathResultFile = "/data/resultfile"
)

const (
	DefaultFormat = "ffcsv"
	DefaultArea   = "all"
)

// maxClassifiers is the number of classifying variable slots the API accepts.
const maxClassifiers = 3

type apiStatus struct {
	Code    int    `json:"Code"`
	Content string `json:"Content"`
	Type    string `json:"Type,omitempty"`
}

type apiObject struct {
	Content string `json:"Content"`
}

type apiResponse struct {
	Status *apiStatus `json:"Status"`
	Object *apiObject `json:"Object"`
}

func (r *apiResponse) content() string {
	if r == nil || r.Object == nil {
		return ""
	}
	return r.Object.Content
}

// Classifier restricts one classifying variable to a set of keys, e.g.
// {Variable: "GES", Key: "GESM,GESW"}.
type Classifier struct {
	Variable string `json:"variable" yaml:"variable"`
	Key      string `json:"key" yaml:"key"`
}

type Filters struct {
	Classifiers      []Classifier `json:"classifiers,omitempty" yaml:"classifiers,omitempty"`
	RegionalVariable string       `json:"regional_variable,omitempty" yaml:"regional_variable,omitempty"`
	RegionalKey      string       `json:"regional_key,omitempty" yaml:"regional_key,omitempty"`
}

// TableRequest asks for one table over a year range.
type TableRequest struct {
	TableID   string
	StartYear int
	EndYear   int
	Format    string
	Area      string
	Filters   Filters
}

func (r TableRequest) Period() string {
	return jobs.YearPeriod(r.StartYear, r.EndYear)
}

func (r TableRequest) Key() jobs.Key {
	return jobs.NewKey(r.TableID, r.Period())
}

func (r TableRequest) Validate() error {
	if strings.TrimSpace(r.TableID) == "" {
		return fmt.Errorf("table id is required")
	}
	if r.StartYear <= 0 || r.EndYear <= 0 {
		return fmt.Errorf("start and end year are required")
	}
	if r.StartYear > r.EndYear {
		return fmt.Errorf("start year %d is after end year %d", r.StartYear, r.EndYear)
	}
	if len(r.Filters.Classifiers) > maxClassifiers {
		return fmt.Errorf("at most %d classifiers are supported, got %d", maxClassifiers, len(r.Filters.Classifiers))
	}
	return nil
}

func (r TableRequest) format() string {
	if r.Format == "" {
		return DefaultFormat
	}
	return r.Format
}

func (r TableRequest) area() string {
	if r.Area == "" {
		return DefaultArea
	}
	return r.Area
}

// submissionForm builds the tablefile form. Unused filters are sent blank.
func (r TableRequest) submissionForm(language string) url.Values {
	form := url.Values{}
	form.Set("name", strings.TrimSpace(r.TableID))
	form.Set("area", r.area())
	form.Set("format", r.format())
	form.Set("job", "true")
	form.Set("startyear", strconv.Itoa(r.StartYear))
	form.Set("endyear", strconv.Itoa(r.EndYear))
	form.Set("compress", "false")
	form.Set("transpose", "false")
	form.Set("language", language)
	for i := 0; i < maxClassifiers; i++ {
		var c Classifier
		if i < len(r.Filters.Classifiers) {
			c = r.Filters.Classifiers[i]
		}
		form.Set("classifyingvariable"+strconv.Itoa(i+1), c.Variable)
		form.Set("classifyingkey"+strconv.Itoa(i+1), c.Key)
	}
	form.Set("regionalvariable", r.Filters.RegionalVariable)
	form.Set("regionalkey", r.Filters.RegionalKey)
	return form
}

func resultForm(jobID, area, language string) url.Values {
	if area == "" {
		area = DefaultArea
	}
	form := url.Values{}
	form.Set("name", jobID)
	form.Set("area", area)
	form.Set("compress", "false")
	form.Set("language", language)
	return form
}

// parseJobID extracts the handle that follows the last ": " in a job-created message.
func parseJobID(content string) (string, error) {
	idx := strings.LastIndex(content, ": ")
	if idx < 0 {
		return "", fmt.Errorf("no job handle in %q", content)
	}
	jobID := strings.TrimSpace(content[idx+2:])
	if jobID == "" {
		return "", fmt.Errorf("empty job handle in %q", content)
	}
	return jobID, nil
}

// Result is the raw table content returned to the caller.
type Result struct {
	Content     string
	JobID       string
	FromCache   bool
	Synchronous bool
}
