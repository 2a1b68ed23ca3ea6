/*
Package health tracks provider liveness over the bus.

A Checker implementation performs one kind of probe and reports a
Result; Status flips Healthy to false once consecutive failures reach
a Config's Retries threshold, and back to true on the first success. Providers in this
lattice are native OS processes with no HTTP or TCP surface of their
own, reachable only through their RPC subject, so BusChecker is the
only Checker this package ships: it sends an empty request to a
provider's health subject and treats any reply as healthy.

pkg/provider's Bridge owns the polling loop; this package only
supplies the checker and the status bookkeeping.
*/
package health
