package proxy

import (
	"bytes"
	"html/template"
	"net/http"
)

var notFoundPage = template.Must(template.New("not-found").Parse(`<!DOCTYPE html>
<html>
<head><title>Project Not Found</title></head>
<body>
<h1>Project Not Found</h1>
<p>No project is deployed at <strong>{{.}}</strong>.</p>
</body>
</html>
`))

var badGatewayPage = template.Must(template.New("bad-gateway").Parse(`<!DOCTYPE html>
<html>
<head><title>Bad Gateway</title></head>
<body>
<h1>Bad Gateway</h1>
<p>{{.}}</p>
</body>
</html>
`))

func writePage(w http.ResponseWriter, status int, page *template.Template, data string) {
	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
