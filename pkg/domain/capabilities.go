package domain

import "sort"

var roleCapabilities = map[Role]map[EventType]struct{}{
	RoleFarmer:          eventSet(EventCreated, EventAssignedToAgency),
	RoleCollectionAgent: eventSet(EventAssignmentAcknowledged, EventCollected, EventInTransitMarked),
	RoleLaboratory:      eventSet(EventReceivedByLab, EventLabTestSubmitted),
	RoleManufacturer:    eventSet(EventReceivedByManufacturer, EventProcessingSubmitted, EventDistributed),
	RoleAdministrator:   eventSet(EventAssignedToAgency, EventRecalled),
}

func eventSet(events ...EventType) map[EventType]struct{} {
	set := make(map[EventType]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}
	return set
}

// CapabilitiesOf returns the event types the role may emit, sorted by name.
// Unknown roles have no capabilities.
func CapabilitiesOf(role Role) []EventType {
	caps := roleCapabilities[role]
	out := make([]EventType, 0, len(caps))
	for evt := range caps {
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Can reports whether role may emit evt.
func Can(role Role, evt EventType) bool {
	_, ok := roleCapabilities[role][evt]
	return ok
}

// Authorize returns an Unauthorized error when role lacks the capability for evt.
func Authorize(role Role, evt EventType) error {
	if Can(role, evt) {
		return nil
	}
	return Unauthorized(role, "role %s may not emit %s", role, evt)
}
