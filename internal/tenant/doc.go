// Package tenant управляет жизненным циклом tenant'ов движка.
//
// Manager владеет одним Service на tenant (планировщик работ и
// координатор восстановления). Пауза и возобновление затрагивают
// только указанный tenant; общий mutex держится лишь на время поиска
// Service, но не на время остановки.
//
// Boot выполняет восстановление после рестарта для каждого tenant'а
// и только затем запускает его планировщик.
package tenant
