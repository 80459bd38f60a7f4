package i18n

import "golang.org/x/text/language"

// Codes must match internal/platform/errors/codes.go.
func init() {
	register(language.AmericanEnglish, map[Code]string{
		CodeGeneric:                       "Something went wrong, please try again.",
		"UNAUTHENTICATED":                 "Please sign in to continue.",
		"REQUEST_INITIATOR_REQUIRED":      "Please sign in to send an invitation.",
		"REQUEST_ACTOR_REQUIRED":          "Please sign in to continue.",
		"REQUEST_CHANNEL_INVALID":         "Choose email, link or code to invite your co-parent.",
		"REQUEST_TARGET_EMAIL_REQUIRED":   "Enter your co-parent's email address.",
		"REQUEST_TARGET_EMAIL_INVALID":    "That email address doesn't look right.",
		"REQUEST_IDENTIFIER_REQUIRED":     "Enter the invitation link or code.",
		"REQUEST_IDENTIFIER_KIND_INVALID": "Enter the invitation link or code.",
		"REQUEST_ID_REQUIRED":             "This invitation could not be found.",
		"REQUEST_BODY_INVALID":            "Something in that request doesn't look right.",
		"REQUEST_NOT_FOUND":               "This invitation is invalid or has already been used.",
		"REQUEST_EXPIRED":                 "This invitation link has expired. Ask for a new one.",
		"REQUEST_ALREADY_RESOLVED":        "This invitation link has already been used.",
		"REQUEST_SELF_ACCEPT":             "You can't accept your own invitation.",
		"REQUEST_SELF_INVITE":             "You can't invite yourself.",
		"REQUEST_SELF_DECLINE":            "You can't decline your own invitation. Cancel it instead.",
		"REQUEST_DUPLICATE_PENDING":       "You already have a pending invitation. Resend or cancel it first.",
		"REQUEST_RECIPIENT_MISMATCH":      "This invitation was sent to a different email address.",
		"ALREADY_CONNECTED":               "You already have an active co-parent connection.",
		"ROOM_UNAVAILABLE":                "Something went wrong, please try again.",
		"STORAGE_UNAVAILABLE":             "Something went wrong, please try again.",
	})

	register(language.BrazilianPortuguese, map[Code]string{
		CodeGeneric:                       "Algo deu errado, tente novamente.",
		"UNAUTHENTICATED":                 "Entre na sua conta para continuar.",
		"REQUEST_INITIATOR_REQUIRED":      "Entre na sua conta para enviar um convite.",
		"REQUEST_ACTOR_REQUIRED":          "Entre na sua conta para continuar.",
		"REQUEST_CHANNEL_INVALID":         "Escolha e-mail, link ou código para convidar o outro responsável.",
		"REQUEST_TARGET_EMAIL_REQUIRED":   "Informe o e-mail do outro responsável.",
		"REQUEST_TARGET_EMAIL_INVALID":    "Esse endereço de e-mail não parece correto.",
		"REQUEST_IDENTIFIER_REQUIRED":     "Informe o link ou código do convite.",
		"REQUEST_IDENTIFIER_KIND_INVALID": "Informe o link ou código do convite.",
		"REQUEST_ID_REQUIRED":             "Não encontramos este convite.",
		"REQUEST_BODY_INVALID":            "Algo nesta solicitação não parece correto.",
		"REQUEST_NOT_FOUND":               "Este convite é inválido ou já foi usado.",
		"REQUEST_EXPIRED":                 "Este link de convite expirou. Peça um novo.",
		"REQUEST_ALREADY_RESOLVED":        "Este link de convite já foi usado.",
		"REQUEST_SELF_ACCEPT":             "Você não pode aceitar o seu próprio convite.",
		"REQUEST_SELF_INVITE":             "Você não pode convidar a si mesmo.",
		"REQUEST_SELF_DECLINE":            "Você não pode recusar o seu próprio convite. Cancele-o.",
		"REQUEST_DUPLICATE_PENDING":       "Você já tem um convite pendente. Reenvie ou cancele-o primeiro.",
		"REQUEST_RECIPIENT_MISMATCH":      "Este convite foi enviado para outro endereço de e-mail.",
		"ALREADY_CONNECTED":               "Você já tem uma conexão ativa com outro responsável.",
		"ROOM_UNAVAILABLE":                "Algo deu errado, tente novamente.",
		"STORAGE_UNAVAILABLE":             "Algo deu errado, tente novamente.",
	})
}
