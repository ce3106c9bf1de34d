package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/index.html
var templateFS embed.FS

var homeTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type widget struct {
	Script      string
	WidgetClass string
}

var widgets = map[string]widget{
	"recaptcha": {Script: "https://www.google.com/recaptcha/api.js", WidgetClass: "g-recaptcha"},
	"hcaptcha":  {Script: "https://js.hcaptcha.com/1/api.js", WidgetClass: "h-captcha"},
}

type demoForm struct {
	Action      string
	SiteKey     string
	Script      string
	WidgetClass string
}

// HomeMenu renders one test form per provider that has a site key.
func HomeMenu(forms []demoForm) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{"Forms": forms})
	}
}

func demoForms(siteKeys map[string]string, enabled []string) []demoForm {
	var forms []demoForm
	for _, name := range enabled {
		key := siteKeys[name]
		w, ok := widgets[name]
		if key == "" || !ok {
			continue
		}
		forms = append(forms, demoForm{
			Action:      Routes[name],
			SiteKey:     key,
			Script:      w.Script,
			WidgetClass: w.WidgetClass,
		})
	}
	return forms
}
