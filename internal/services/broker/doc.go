// Package broker runs request/response flows between an opener page and a
// popup it opens.
//
// Every flow has the same shape regardless of route: the opener posts a
// request envelope to the popup and keeps re-posting it until the popup
// acknowledges with "ready", then waits for one "result". If the popup goes
// away first, the flow resolves with the route's default negative result.
package broker
