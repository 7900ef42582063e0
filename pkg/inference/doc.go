/*
Package inference is the client side of the local model tiers.

A Client binds one model on one Ollama-compatible server and issues
non-streaming generate calls that request JSON output. Answers come
back as raw text because models wrap JSON in fences or prose anyway;
ParseVerdict recovers the structured answer with a single repair pass
and maps the model's doc_typ onto the closed kind set.

ClassifyPrompt renders the Czech extraction prompt used by every tier,
so small and large models answer the same schema and their verdicts
stay comparable. Discover probes configured hosts and reports which
carry which models, which is how the launcher picks endpoints on a
network of heterogeneous machines.
*/
package inference
