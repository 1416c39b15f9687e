package contentsync

import (
	"bytes"
	"net/url"
	"text/template"
)

var templateFuncs = template.FuncMap{
	"queryescape": url.QueryEscape,
}

// templateData is accessible in template strings of a Job.
type templateData struct {
	Owner      string
	Repository string
	FilePath   string
	BaseBranch string
	NewBranch  string
}

func templateDataFromJob(j *Job) *templateData {
	return &templateData{
		Owner:      j.Repository.Owner,
		Repository: j.Repository.Name,
		FilePath:   j.FilePath,
		BaseBranch: j.BaseBranch,
		NewBranch:  j.NewBranch,
	}
}

func parseTemplate(text string) (*template.Template, error) {
	return template.New("job").Funcs(templateFuncs).Option("missingkey=error").Parse(text)
}

func renderFunc(data *templateData) func(in string) (string, error) {
	return func(text string) (string, error) {
		templ, err := parseTemplate(text)
		if err != nil {
			return "", err
		}

		var out bytes.Buffer

		err = templ.Execute(&out, data)
		if err != nil {
			return "", err
		}

		return out.String(), nil
	}
}
