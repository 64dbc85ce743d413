// Camada de domínio do controle de admissão e deduplicação de respostas.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http nem do
// cliente redis. As implementações concretas moram em infra.
package domain
