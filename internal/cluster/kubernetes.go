package cluster

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/clientcmd"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/gitops-dm/dm/internal/model"
	"github.com/gitops-dm/dm/internal/resource"
)

// fieldManager identifies this process to the API server's server-side
// apply conflict tracking, the same role Fleet's desiredset client plays
// for its own applies.
const fieldManager = "new-dm"

// Kubernetes is the production Driver: an environment's resources live on
// one cluster, reached through a kubeconfig named in /deployers.yaml.
// Unlike Fleet's desiredset client, which prunes a whole bundle's object
// set against a cache, one Kubernetes driver here only ever applies the
// single resource it is handed — pruning removed resources is out of
// scope (§ Non-goals).
type Kubernetes struct {
	dynamicClient dynamic.Interface
	mapper        meta.RESTMapper
	namespace     string
}

// NewKubernetesFromEnvironmentConfig builds a rest.Config from cfg's
// kubeconfig path and context, the way Fleet's agent resolves a
// downstream cluster's credentials, then wraps it in a Kubernetes driver.
func NewKubernetesFromEnvironmentConfig(cfg EnvironmentConfig) (*Kubernetes, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	loadingRules.ExplicitPath = cfg.KubeconfigPath

	overrides := &clientcmd.ConfigOverrides{}
	if cfg.Context != "" {
		overrides.CurrentContext = cfg.Context
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig %s: %w", cfg.KubeconfigPath, err)
	}

	return NewKubernetes(restConfig, cfg.Namespace)
}

// NewKubernetes builds a Driver around restConfig. namespace is used for
// any resource whose document does not set metadata.namespace itself.
func NewKubernetes(restConfig *rest.Config, namespace string) (*Kubernetes, error) {
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building discovery client: %w", err)
	}
	groupResources, err := restmapper.GetAPIGroupResources(discoveryClient)
	if err != nil {
		return nil, fmt.Errorf("fetching API group resources: %w", err)
	}

	return &Kubernetes{
		dynamicClient: dynamicClient,
		mapper:        restmapper.NewDiscoveryRESTMapper(groupResources),
		namespace:     namespace,
	}, nil
}

func (k *Kubernetes) resourceInterfaceFor(u *unstructured.Unstructured) (dynamic.ResourceInterface, error) {
	gvk := u.GroupVersionKind()
	mapping, err := k.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("resolving REST mapping for %s: %w", gvk, err)
	}

	if mapping.Scope.Name() != meta.RESTScopeNameNamespace {
		return k.dynamicClient.Resource(mapping.Resource), nil
	}

	ns := u.GetNamespace()
	if ns == "" {
		ns = k.namespace
	}
	return k.dynamicClient.Resource(mapping.Resource).Namespace(ns), nil
}

func (k *Kubernetes) RetrieveCurrentState(ctx context.Context, resources []*resource.Resource) (map[string]model.ResourceState, error) {
	states := make(map[string]model.ResourceState, len(resources))

	for _, r := range resources {
		u, err := toUnstructured(r.MergedContent)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.Name, err)
		}

		ri, err := k.resourceInterfaceFor(u)
		if err != nil {
			return nil, err
		}

		live, err := ri.Get(ctx, u.GetName(), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			states[r.Name] = model.NotDeployed()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting %s: %w", r.Name, err)
		}

		states[r.Name] = model.ResourceState{
			Deployed:        true,
			Version:         liveVersion(live),
			ExpectedVersion: r.Version,
			Status:          observeRolloutStatus(live),
		}
	}

	return states, nil
}

func (k *Kubernetes) Deploy(ctx context.Context, r *resource.Resource) error {
	u, err := toUnstructured(r.MergedContent)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", r.Name, err)
	}

	annotations := u.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[VersionAnnotation] = r.Version.String()
	u.SetAnnotations(annotations)

	ri, err := k.resourceInterfaceFor(u)
	if err != nil {
		return err
	}

	payload, err := u.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding %s for apply: %w", r.Name, err)
	}

	_, err = ri.Patch(ctx, u.GetName(), types.ApplyPatchType, payload, metav1.PatchOptions{
		FieldManager: fieldManager,
		Force:        boolPtr(true),
	})
	if err != nil {
		return fmt.Errorf("applying %s: %w", r.Name, err)
	}
	return nil
}

// toUnstructured converts a resource's merged document, as decoded by
// gopkg.in/yaml.v3, into the JSON-native map unstructured.Unstructured
// needs. yaml.v3 decodes integers as plain int and maps as
// map[string]interface{}, neither of which unstructured's accessor
// helpers accept; round-tripping through sigs.k8s.io/yaml's YAMLToJSON
// normalizes every scalar to the types encoding/json would have produced.
func toUnstructured(merged interface{}) (*unstructured.Unstructured, error) {
	yamlBytes, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("re-encoding merged document: %w", err)
	}
	jsonBytes, err := sigsyaml.YAMLToJSON(yamlBytes)
	if err != nil {
		return nil, fmt.Errorf("converting to JSON: %w", err)
	}

	u := &unstructured.Unstructured{}
	if err := u.UnmarshalJSON(jsonBytes); err != nil {
		return nil, fmt.Errorf("decoding into unstructured object: %w", err)
	}
	return u, nil
}

// liveVersion reads the version annotation stamped by Deploy. A missing
// annotation or one that isn't a well-formed id both report the zero id,
// per the data model's synthetic-zero-on-parse-failure rule.
func liveVersion(u *unstructured.Unstructured) model.ObjectID {
	ann, ok := u.GetAnnotations()[VersionAnnotation]
	if !ok {
		return model.ZeroID
	}
	id, ok := model.ParseIDStrict(ann)
	if !ok {
		return model.ZeroID
	}
	return id
}

// observeRolloutStatus derives a RolloutStatusReason from a live object's
// status subresource. An object with no status field at all (a ConfigMap,
// for example) reports NoStatus. Only Deployment-shaped status (replicas /
// updatedReplicas / availableReplicas) is understood; an object that has a
// status but no spec.replicas reports Clean.
func observeRolloutStatus(u *unstructured.Unstructured) model.RolloutStatusReason {
	status, found, _ := unstructured.NestedMap(u.Object, "status")
	if !found {
		return model.RolloutStatusReason{Kind: model.ReasonNoStatus}
	}

	specReplicas, found, _ := unstructured.NestedInt64(u.Object, "spec", "replicas")
	if !found {
		return model.CleanReason()
	}

	replicas, _, _ := unstructured.NestedInt64(status, "replicas")
	updated, _, _ := unstructured.NestedInt64(status, "updatedReplicas")
	available, _, _ := unstructured.NestedInt64(status, "availableReplicas")

	if updated < specReplicas {
		return model.RolloutStatusReason{Kind: model.ReasonNotAllUpdated, Expected: int(specReplicas), Updated: int(updated)}
	}
	if replicas > updated {
		return model.RolloutStatusReason{Kind: model.ReasonOldReplicasPending, Number: int(replicas - updated)}
	}
	if available < updated {
		return model.RolloutStatusReason{Kind: model.ReasonUpdatedUnavailable, Updated: int(updated), Available: int(available)}
	}
	return model.CleanReason()
}

func boolPtr(b bool) *bool { return &b }
