// Implementações concretas dos stores compartilhados e do maquinário de
// background: contador atômico e cache de respostas em redis, variantes em
// memória para testes/instância única, pool de gravação assíncrona e o
// escudo local de burst (token bucket por chave).
package infra
