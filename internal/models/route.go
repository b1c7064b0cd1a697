package models

// Route is the dispatch category assigned to an inbound event.
type Route string

const (
	RouteStart         Route = "start"
	RouteHelp          Route = "help"
	RouteResetSession  Route = "reset_session"
	RouteGroupText     Route = "group_text"
	RouteGroupImage    Route = "group_image"
	RouteFreeformText  Route = "freeform_text"
	RouteFreeformImage Route = "freeform_image"
	RouteUnhandled     Route = "unhandled"
)

// IsCommand reports whether the route was selected by an explicit command.
func (r Route) IsCommand() bool {
	switch r {
	case RouteStart, RouteHelp, RouteResetSession, RouteGroupText, RouteGroupImage:
		return true
	}
	return false
}

// Routes lists every route the classifier can produce.
func Routes() []Route {
	return []Route{
		RouteStart, RouteHelp, RouteResetSession, RouteGroupText,
		RouteGroupImage, RouteFreeformText, RouteFreeformImage, RouteUnhandled,
	}
}
