package services

import (
	"fmt"
	"strings"
)

const (
	SubjectVerification = "Comedores Comunitarios – Verificación de correo electrónico"
	signature           = "Equipo Comedores Comunitarios"
)

type DonationItem struct {
	Name     string `json:"name" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

func VerificationMessage(email, code string, minutes int) Message {
	body := fmt.Sprintf("Hola,\n\n"+
		"Gracias por registrarte en Comedores Comunitarios.\n\n"+
		"Para completar tu registro, ingresá el siguiente código de verificación: %s\n\n"+
		"Este código vence en %d minutos.\n\n"+
		"Si vos no solicitaste este registro, podés ignorar este correo.\n\n%s",
		code, minutes, signature)
	return Message{To: []string{email}, Subject: SubjectVerification, Body: body}
}

func NewPublicationMessage(recipients []string, comedor, title string) Message {
	body := fmt.Sprintf("¡Hola!\n\n"+
		"El comedor %s realizó una nueva publicación:\n\n"+
		"%s\n\n"+
		"Te avisamos para que estés al tanto.\n\n%s",
		comedor, title, signature)
	return Message{To: recipients, Subject: "Nueva publicación en " + comedor, Body: body}
}

func NewDonationMessage(recipients []string, comedor, donor string, items []DonationItem) Message {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s x%d\n", it.Name, it.Quantity)
	}
	body := fmt.Sprintf("¡Hola!\n\n"+
		"%s se comprometió a donar a %s:\n\n"+
		"%s\n"+
		"Coordiná la entrega desde tu panel.\n\n%s",
		donor, comedor, b.String(), signature)
	return Message{To: recipients, Subject: "Nueva donación para " + comedor, Body: body}
}
