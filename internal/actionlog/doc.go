// Package actionlog carries every dispatched tool action from the request path
// to the SQL repository. Producers publish JSON records to an in-process
// channel, a Redis list or a RabbitMQ queue; the Processor consumes them and
// persists them so later requests see them as recent action history.
package actionlog
