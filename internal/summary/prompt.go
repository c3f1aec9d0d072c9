package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/t77yq/groupsummary/internal/model"
)

const (
	windowLayout      = "2006-01-02 15:04:05"
	messageTimeLayout = "02/01 15:04"
)

// Prompt is a chat request split into instructions and the transcript to summarise
type Prompt struct {
	System string
	User   string
}

// PromptOptions are the per-group toggles from the configuration row
type PromptOptions struct {
	IncludeLinks bool
	IncludeNames bool
}

const baseInstructions = `Você é um assistente de IA especializado em criar resumos organizados e objetivos
de mensagens em grupos de WhatsApp. Apresente as informações de forma clara e segmentada,
usando o template delimitado por <template>. Para alimentar o resumo use as mensagens
delimitadas por <msgs>.

Importante:
- Ignore mensagens que são resumos anteriores.
- Retire os placeholders < > do texto.
- Quando não houver informações sobre um tópico simplesmente não coloque o tópico.
`

const templateHead = `<template>
*Resumo do Grupo📝 - <Data ou Período>*

*<Tópico Principal> <Emoji relacionado> - <Horário>*
`

const templateParticipants = `
- *Participantes:* <Nomes dos usuários envolvidos>`

const templateTopic = `
- *Resumo:* <Descrição do tópico discutido, incluindo detalhes importantes e ações relevantes>

*Dúvidas, Erros e suas Soluções ❓ - <Horário>*
`

const templateQuestionNames = `
- *Solicitado por:* <Nome do participante que levantou a dúvida ou relatou o erro>
- *Respondido por:* <Nome(s) dos participantes que ofereceram soluções ou respostas>`

const templateQuestion = `
- *Resumo:* <Descrição do problema ou dúvida e as soluções ou respostas apresentadas.>

*Resumo geral do período 📊:*
- <Resumo curto e objetivo sobre o tom geral das interações ou assuntos discutidos no período.>
`

const templateLinks = `
*Links do Dia🔗:*
- <Caso sejam compartilhados links importantes, liste-os aqui com data e contexto.>
`

const templateTail = `
*Conclusão🔚:*
- <Conclua destacando o ambiente do grupo ou a produtividade das interações.>
</template>
`

// BuildPrompt formats the messages of a window into a summary request.
// Messages are listed oldest first.
func BuildPrompt(msgs []model.Message, start, end time.Time, opts PromptOptions) Prompt {
	var sys strings.Builder
	sys.WriteString(baseInstructions)
	if !opts.IncludeNames {
		sys.WriteString("- Não cite nomes de participantes no resumo.\n")
	}
	if !opts.IncludeLinks {
		sys.WriteString("- Não liste links no resumo.\n")
	}
	sys.WriteString("\n")
	sys.WriteString(templateHead)
	if opts.IncludeNames {
		sys.WriteString(templateParticipants)
	}
	sys.WriteString(templateTopic)
	if opts.IncludeNames {
		sys.WriteString(templateQuestionNames)
	}
	sys.WriteString(templateQuestion)
	if opts.IncludeLinks {
		sys.WriteString(templateLinks)
	}
	sys.WriteString(templateTail)

	var user strings.Builder
	fmt.Fprintf(&user, "Dados sobre as mensagens do grupo\nData Inicial: %s\nData Final: %s\n\n",
		start.Format(windowLayout), end.Format(windowLayout))
	user.WriteString("<msgs>\n")
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		if opts.IncludeNames {
			fmt.Fprintf(&user, "Nome: *%s*\n", m.Sender())
		}
		fmt.Fprintf(&user, "Postagem: %q\n", m.Text)
		fmt.Fprintf(&user, "data: %s\n\n", m.Time().Format(messageTimeLayout))
	}
	user.WriteString("</msgs>\n")

	return Prompt{System: sys.String(), User: user.String()}
}
