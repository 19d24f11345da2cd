package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License 2.0.

const (
	// RegionKey is the span's attribute Key reporting the subcloud
	// region the operation targets.
	RegionKey = attribute.Key("dcs.subcloud.region")

	// EndpointTypeKey is the span's attribute Key reporting the
	// endpoint type (identity, platform) being synced.
	EndpointTypeKey = attribute.Key("dcs.endpoint.type")

	// ResourceTypeKey is the span's attribute Key reporting the record
	// class being synced.
	ResourceTypeKey = attribute.Key("dcs.resource.type")

	// MasterIDKey is the span's attribute Key reporting the master
	// record ID the operation applies to.
	MasterIDKey = attribute.Key("dcs.resource.master_id")

	// SubcloudIDKey is the span's attribute Key reporting the subcloud
	// record ID a mapping resolves to.
	SubcloudIDKey = attribute.Key("dcs.resource.subcloud_id")

	// OperationKey is the span's attribute Key reporting the sync verb.
	OperationKey = attribute.Key("dcs.operation")

	// RequestIDKey is the span's attribute Key reporting the queued
	// request row driving the operation.
	RequestIDKey = attribute.Key("dcs.request.id")

	// RequestStateKey is the span's attribute Key reporting the final
	// state of a queued request.
	RequestStateKey = attribute.Key("dcs.request.state")

	// SyncStatusKey is the span's attribute Key reporting an endpoint's
	// sync status after an audit or queue drain.
	SyncStatusKey = attribute.Key("dcs.sync.status")
)

// SetWorkAttributes sets attributes on the span to identify a queued
// unit of sync work.
func SetWorkAttributes(span trace.Span, region, endpointType, resourceType, masterID, operation string) {
	span.SetAttributes(
		RegionKey.String(region),
		EndpointTypeKey.String(endpointType),
		ResourceTypeKey.String(resourceType),
		OperationKey.String(operation),
	)
	if masterID != "" {
		span.SetAttributes(MasterIDKey.String(masterID))
	}
}
