package resources

const (
	RecaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"
	HcaptchaEndpoint  = "https://hcaptcha.com/siteverify"

	InvalidAccessMessage      = "Acceso inválido."
	VerifierDownMessage       = "No se pudo contactar al servicio de verificación. Inténtalo más tarde."
	TooManyAttemptsMessage    = "Demasiados intentos. Espera un momento e inténtalo de nuevo."
	recaptchaSuccessMessage   = "Verificación de reCAPTCHA exitosa. ¡Formulario procesado!"
	recaptchaFailureMessage   = "Verificación de reCAPTCHA fallida. Por favor, inténtalo de nuevo."
	hcaptchaSuccessMessage    = "hCaptcha verificado correctamente. Puedes continuar con el procesamiento de tu formulario."
	hcaptchaFailureMessage    = "Error en la verificación de hCaptcha. Por favor, inténtalo nuevamente."
	recaptchaProviderName     = "recaptcha"
	hcaptchaProviderName      = "hcaptcha"
	recaptchaTokenField       = "g-recaptcha-response"
	hcaptchaTokenField        = "h-captcha-response"
	errorCodeTimeoutDuplicate = "timeout-or-duplicate"
)

// Provider describes one siteverify service and how its widget submits tokens.
type Provider struct {
	Name           string
	Endpoint       string
	Secret         string
	TokenField     string
	SuccessMessage string
	FailureMessage string
}

// Recaptcha returns the Google reCAPTCHA provider. An empty endpoint selects
// the public siteverify URL.
func Recaptcha(secret, endpoint string) Provider {
	if endpoint == "" {
		endpoint = RecaptchaEndpoint
	}
	return Provider{
		Name:           recaptchaProviderName,
		Endpoint:       endpoint,
		Secret:         secret,
		TokenField:     recaptchaTokenField,
		SuccessMessage: recaptchaSuccessMessage,
		FailureMessage: recaptchaFailureMessage,
	}
}

// Hcaptcha returns the hCaptcha provider. An empty endpoint selects the
// public siteverify URL.
func Hcaptcha(secret, endpoint string) Provider {
	if endpoint == "" {
		endpoint = HcaptchaEndpoint
	}
	return Provider{
		Name:           hcaptchaProviderName,
		Endpoint:       endpoint,
		Secret:         secret,
		TokenField:     hcaptchaTokenField,
		SuccessMessage: hcaptchaSuccessMessage,
		FailureMessage: hcaptchaFailureMessage,
	}
}
