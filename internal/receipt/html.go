package receipt

import (
	_ "embed"
	"html/template"
)

//go:embed templates/receipt_email.html
var receiptEmailHTML string

var receiptEmailTemplate = template.Must(template.New("receipt_email").Parse(receiptEmailHTML))
