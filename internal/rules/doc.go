// Package rules loads declarative bus rules from YAML files.
//
// A rule file holds a list of rules. Each rule has a "when" condition and
// a "then" list of actions:
//
//	rules:
//	  - name: large-order-alert
//	    priority: 5
//	    when:
//	      types: [ORDER_CREATED]
//	      sources: [pos]
//	      priorities: [HIGH, CRITICAL]
//	      match:
//	        payload.total: {gte: 10000}
//	        metadata.branchId: cairo-1
//	      lua: event.payload.currency == "EGP"
//	    then:
//	      - publish:
//	          type: LARGE_ORDER
//	          payload: {reason: threshold}
//	          copy:
//	            orderId: payload.orderId
//	            branch: metadata.branchId
//	      - log: "large order {payload.orderId} at {metadata.branchId}"
//	      - lua: |
//	          bus.publish("AUDIT_REQUESTED", {order = event.payload.orderId})
//
// Paths in match, copy and log placeholders are gjson paths on the
// event's JSON envelope: {"type": ..., "payload": ..., "metadata": {...}}.
// Copy destinations are sjson paths in the derived payload.
//
// Derived events carry the trigger's correlation ID (or the trigger's ID
// when it has none) unless the publish action sets correlate: false.
//
// An Installer registers a file's rules on a bus and replaces them when the
// file is installed again. A Watcher does that automatically on change.
package rules
