// Package admission fornece os estágios de pipeline HTTP (net/http) que
// rodam antes do handler de negócio: controle de admissão distribuído e
// deduplicação de respostas.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admit/fail-open, fingerprint/replay) sem net/http
//   - infra: implementações concretas (redis, memória, pool de gravação, escudo local)
//   - admission (este pacote): middlewares HTTP + resolução de identidade +
//     tradução para status/headers/corpo 429
//
// Fluxo por requisição:
//
//  1. Resolve a identidade (usuário autenticado ou endereço do cliente)
//  2. Avalia as policies de admissão contra o contador compartilhado;
//     negado responde 429 com headers de cota e corpo estruturado
//  3. Deduplicação: fingerprint da requisição, replay do cache (X-Cache: HIT)
//     ou captura da resposta e gravação assíncrona (X-Cache: MISS)
//  4. Handler de negócio
//
// O contador e o cache são compartilhados por todas as instâncias; falha de
// qualquer um nunca derruba a requisição (fail-open / miss).
//
// As variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como RATE_POLICIES, DEDUP_PRESET e SHIELD_RPS.
package admission
