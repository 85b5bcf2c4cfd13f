package webhook

// Classification is an ordered predicate chain over the decoded payload.
// It is pure and total: no I/O, no clock, and every input resolves to
// exactly one decision, with the general queue as the fallback.

var explicitTagDecisions = map[string]RoutingDecision{
	"InboundMessage":          {Kind: KindMessageInbound, QueueType: QueueTypeMessages, Priority: PriorityMessages},
	"OutboundMessage":         {Kind: KindMessageOutbound, QueueType: QueueTypeMessages, Priority: PriorityMessages},
	"AppointmentCreate":       {Kind: KindAppointmentCreated, QueueType: QueueTypeAppointments, Priority: PriorityAppointments},
	"AppointmentUpdate":       {Kind: KindAppointmentUpdated, QueueType: QueueTypeAppointments, Priority: PriorityAppointments},
	"AppointmentDelete":       {Kind: KindAppointmentDeleted, QueueType: QueueTypeAppointments, Priority: PriorityAppointments},
	"ContactCreate":           {Kind: KindContactCreated, QueueType: QueueTypeContacts, Priority: PriorityContacts},
	"ContactUpdate":           {Kind: KindContactUpdated, QueueType: QueueTypeContacts, Priority: PriorityContacts},
	"ContactDelete":           {Kind: KindContactDeleted, QueueType: QueueTypeContacts, Priority: PriorityContacts},
	"ContactDndUpdate":        {Kind: KindContactDND, QueueType: QueueTypeContacts, Priority: PriorityContacts},
	"OpportunityCreate":       {Kind: KindOpportunityCreated, QueueType: QueueTypeOpportunities, Priority: PriorityOpportunities},
	"OpportunityUpdate":       {Kind: KindOpportunityUpdated, QueueType: QueueTypeOpportunities, Priority: PriorityOpportunities},
	"OpportunityStatusUpdate": {Kind: KindOpportunityStatus, QueueType: QueueTypeOpportunities, Priority: PriorityOpportunities},
	"InvoiceCreate":           {Kind: KindInvoice, QueueType: QueueTypeFinancial, Priority: PriorityFinancial},
	"InvoicePaid":             {Kind: KindInvoice, QueueType: QueueTypeFinancial, Priority: PriorityFinancial},
	"InvoiceVoid":             {Kind: KindInvoice, QueueType: QueueTypeFinancial, Priority: PriorityFinancial},
	"OrderCreate":             {Kind: KindOrder, QueueType: QueueTypeFinancial, Priority: PriorityFinancial},
	"OrderStatusUpdate":       {Kind: KindOrder, QueueType: QueueTypeFinancial, Priority: PriorityFinancial},
	"TaskCreate":              {Kind: KindTask, QueueType: QueueTypeActivities, Priority: PriorityActivities},
	"TaskComplete":            {Kind: KindTask, QueueType: QueueTypeActivities, Priority: PriorityActivities},
	"TaskDelete":              {Kind: KindTask, QueueType: QueueTypeActivities, Priority: PriorityActivities},
	"NoteCreate":              {Kind: KindNote, QueueType: QueueTypeActivities, Priority: PriorityActivities},
	"NoteDelete":              {Kind: KindNote, QueueType: QueueTypeActivities, Priority: PriorityActivities},
}

// Classify resolves the envelope to an event kind, target queue and priority
// tier. The explicit type tag wins when recognized; otherwise payload shape
// is inspected in a fixed order: calendar, opportunity, financial, activity,
// message direction, contact. Anything else lands in the general queue.
func Classify(env *Envelope) RoutingDecision {
	if decision, ok := explicitTagDecisions[env.EventTag]; ok {
		if decision.Kind == KindAppointmentUpdated && calendarStatus(env) == "cancelled" {
			decision.Kind = KindAppointmentCancelled
		}
		return decision
	}

	if hasCalendarShape(env) {
		kind := KindAppointmentUpdated
		if calendarStatus(env) == "cancelled" {
			kind = KindAppointmentCancelled
		}
		return RoutingDecision{Kind: kind, QueueType: QueueTypeAppointments, Priority: PriorityAppointments}
	}

	if env.HasField("opportunityId") || env.HasField("pipelineId") || env.HasField("pipelineStageId") {
		return RoutingDecision{Kind: KindOpportunityUpdated, QueueType: QueueTypeOpportunities, Priority: PriorityOpportunities}
	}

	if env.HasField("invoiceId") || env.HasField("invoiceNumber") || env.HasField("amountDue") {
		return RoutingDecision{Kind: KindInvoice, QueueType: QueueTypeFinancial, Priority: PriorityFinancial}
	}
	if env.HasField("orderId") {
		return RoutingDecision{Kind: KindOrder, QueueType: QueueTypeFinancial, Priority: PriorityFinancial}
	}

	if env.HasField("taskId") {
		return RoutingDecision{Kind: KindTask, QueueType: QueueTypeActivities, Priority: PriorityActivities}
	}
	if env.HasField("noteId") {
		return RoutingDecision{Kind: KindNote, QueueType: QueueTypeActivities, Priority: PriorityActivities}
	}

	if kind, ok := messageKind(env); ok {
		return RoutingDecision{Kind: kind, QueueType: QueueTypeMessages, Priority: PriorityMessages}
	}

	if env.HasField("contactId") && (env.HasField("email") || env.HasField("phone") || env.HasField("firstName")) {
		return RoutingDecision{Kind: KindContactUpdated, QueueType: QueueTypeContacts, Priority: PriorityContacts}
	}

	return RoutingDecision{Kind: KindUnknown, QueueType: QueueTypeGeneral, Priority: PriorityGeneral}
}

func hasCalendarShape(env *Envelope) bool {
	return env.HasField("calendar") || env.HasField("appointmentId") || env.HasField("calendarId")
}

func calendarStatus(env *Envelope) string {
	if calendar, ok := env.Raw["calendar"].(map[string]interface{}); ok {
		if status, ok := calendar["status"].(string); ok {
			return status
		}
		if status, ok := calendar["appointmentStatus"].(string); ok {
			return status
		}
	}
	if status, ok := env.Raw["appointmentStatus"].(string); ok {
		return status
	}
	return ""
}

// messageKind recognizes the message shape: an explicit direction plus either
// a body or messageId field. Direction values "inbound"/"in" map to inbound,
// everything else recognized maps to outbound.
func messageKind(env *Envelope) (string, bool) {
	direction := env.StringField("direction")
	if direction == "" {
		return "", false
	}
	if !env.HasField("body") && !env.HasField("messageId") && !env.HasField("message") {
		return "", false
	}
	switch direction {
	case "inbound", "in":
		return KindMessageInbound, true
	case "outbound", "out":
		return KindMessageOutbound, true
	}
	return "", false
}
