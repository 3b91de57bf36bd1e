package kustoingest

const (
	ClientRequestIDHeader = "x-ms-client-request-id"
	ApplicationHeader     = "x-ms-app"
	ClientVersionHeader   = "x-ms-client-version"
	Authorization         = "Authorization"
	UserAgent             = "User-Agent"
	ContentEncoding       = "Content-Encoding"

	accept          = "Accept"
	contentType     = "Content-Type"
	jsonContentType = "application/json; charset=utf-8"
	csvContentType  = "text/csv; charset=utf-8"
	formContentType = "application/x-www-form-urlencoded"

	applicationName = "kusto-ingest-go"
)
