// Casos de uso do controle de admissão e da deduplicação, sem net/http.
//
//   - AdmissionService: decide allow/deny por (policy, identidade, bucket de
//     janela) contra o counter store compartilhado, com fail-open.
//   - DedupService: fingerprint da requisição, lookup no cache de respostas e
//     gravação assíncrona desacoplada da requisição.
package application
