// Package metrics exposes Prometheus counters for the agreement service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AgreementsCreated  prometheus.Counter
	RevisionsProposed  prometheus.Counter
	Approvals          prometheus.Counter
	SignaturesVerified *prometheus.CounterVec
	Finalizations      prometheus.Counter
	CredentialsIssued  prometheus.Counter
	CredentialFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		AgreementsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_agreements_created_total",
			Help: "Total number of agreements proposed",
		}),
		RevisionsProposed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_revisions_proposed_total",
			Help: "Total number of agreement revisions proposed",
		}),
		Approvals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_approvals_total",
			Help: "Total number of recorded approvals",
		}),
		SignaturesVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signet_signatures_verified_total",
			Help: "Typed-data signature verifications by result",
		}, []string{"result"}),
		Finalizations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_finalizations_total",
			Help: "Total number of agreements finalized with both signatures",
		}),
		CredentialsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_credentials_issued_total",
			Help: "Total number of credential tokens issued",
		}),
		CredentialFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signet_credential_failures_total",
			Help: "Total number of failed credential issuance attempts",
		}),
	}
}
