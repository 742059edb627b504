package essays

import (
	"fmt"
	"strings"
)

const systemInstruction = `Você é um corretor experiente de redações do ENEM.
Avalie o texto nas cinco competências oficiais, atribuindo de 0 a 200 pontos a cada uma:
1. Domínio da norma culta da língua escrita.
2. Compreensão da proposta e aplicação de conceitos de várias áreas do conhecimento.
3. Seleção, organização e interpretação de informações em defesa de um ponto de vista.
4. Conhecimento dos mecanismos linguísticos necessários para a argumentação.
5. Proposta de intervenção que respeite os direitos humanos.
Para cada competência, explique a nota em no máximo três frases e sugira uma melhoria concreta.
Termine com a nota total e um parágrafo curto de orientação. Responda em português do Brasil.`

func buildPrompt(theme, essay string) string {
	var b strings.Builder
	if theme = strings.TrimSpace(theme); theme != "" {
		fmt.Fprintf(&b, "Tema proposto: %s\n\n", theme)
	}
	b.WriteString("Redação do estudante:\n\"\"\"\n")
	b.WriteString(strings.TrimSpace(essay))
	b.WriteString("\n\"\"\"")
	return b.String()
}
