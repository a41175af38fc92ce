package formatter

const spannedDiagnosticTemplate = `{{header .Code .Severity .MaxLineNumWidth .Filename .StartLine .StartColumn}}
{{snippet .SnippetLines .StartLine .EndLine .MaxLineNumWidth .CommonIndent .Padding -}}
{{underlineAndMessage .Message .Padding .StartLine .EndLine .StartColumn .EndColumn .SnippetLines .CommonIndent -}}
{{if .Note}}{{note .Note .Padding}}{{end}}
`

// used when there is no source to show, either because the diagnostic has
// no span or because the file could not be read.
const bareDiagnosticTemplate = `{{header .Code .Severity .MaxLineNumWidth .Filename .StartLine .StartColumn}}
{{message .Message .Padding -}}
{{if .Note}}{{note .Note .Padding}}{{end}}
`
